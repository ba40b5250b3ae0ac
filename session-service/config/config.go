// Package config provides functions for fetching configuration values from
// the configuration database when the session service starts and for reading
// those values while the session service is running. It tracks the regions in
// which labs may be provisioned, the per-organization pod cap, and the
// connection gateway parameters. config.Initialize() should be called as
// close as possible to the top of the main function.
package config

import (
	"context"
	"sync"
	"time"

	"github.com/hackrange/hackrange/backend/services/metadata"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
)

// serviceConfig stores service-global configuration values.
type serviceConfig struct {
	// enabledRegions is the list of regions in which labs are allowed to be
	// provisioned.
	enabledRegions []string

	// maxPodsPerOrgInstance is the maximum number of pods that can be bound
	// under a single organization-owned instance.
	maxPodsPerOrgInstance int32

	// gatewayURL is the base URL of the remote desktop gateway the connection
	// broker talks to.
	gatewayURL string

	// minGatewayVersion is the minimum gateway version this service is
	// compatible with (e.g. "1.4.0"). Session handoff is refused against
	// older gateways.
	minGatewayVersion string

	// sessionDuration is how long a launched instance lives before the
	// expiry sweep marks it EXPIRED.
	sessionDuration time.Duration
}

// config is a singleton that stores service-global configuration values.
var config serviceConfig

// rw synchronizes access to the configuration singleton.
var rw sync.RWMutex

// Initialize populates the configuration singleton with values from the
// configuration database.
func Initialize(ctx context.Context, client subscriptions.LabGraphQLClient) error {
	if metadata.IsLocalEnvWithoutDB() {
		return initializeLocal(ctx, client)
	}

	return initialize(ctx, client)
}

// GetEnabledRegions returns a list of regions in which labs may be
// provisioned. Attempting to launch in one of the regions returned by this
// function may still result in an error if the requisite cloud infrastructure
// does not exist in that region.
func GetEnabledRegions() []string {
	rw.RLock()
	defer rw.RUnlock()

	return config.enabledRegions
}

// GetMaxPodsPerOrgInstance returns the cap of pods that can be bound under a
// shared organization instance. This includes pods whose session is not
// currently live.
func GetMaxPodsPerOrgInstance() int32 {
	rw.RLock()
	defer rw.RUnlock()

	return config.maxPodsPerOrgInstance
}

// GetGatewayURL returns the base URL of the remote desktop gateway.
func GetGatewayURL() string {
	rw.RLock()
	defer rw.RUnlock()

	return config.gatewayURL
}

// GetMinGatewayVersion returns the minimum gateway version this service will
// hand sessions to, as reported by the config database.
func GetMinGatewayVersion() string {
	rw.RLock()
	defer rw.RUnlock()

	return config.minGatewayVersion
}

// GetSessionDuration returns how long a launched instance lives before it is
// expired.
func GetSessionDuration() time.Duration {
	rw.RLock()
	defer rw.RUnlock()

	return config.sessionDuration
}

// SetGatewayVersion sets the gateway version we track locally. It does not
// update the value in the config database, only the configuration variable
// shared between the lifecycle engine and the connection broker. This
// function is used when starting the service, and when the config database
// entry changes.
func SetGatewayVersion(newVersion subscriptions.ServiceVersion) {
	rw.Lock()
	defer rw.Unlock()

	config.minGatewayVersion = versionForEnvironment(newVersion)
}

// versionForEnvironment picks the gateway version entry matching the
// environment this service runs on.
func versionForEnvironment(version subscriptions.ServiceVersion) string {
	switch metadata.GetAppEnvironment() {
	case metadata.EnvProd:
		return version.ProdGatewayVersion
	case metadata.EnvStaging:
		return version.StagingGatewayVersion
	default:
		return version.DevGatewayVersion
	}
}
