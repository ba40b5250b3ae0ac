package config

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/hackrange/hackrange/backend/services/constants"
	"github.com/hackrange/hackrange/backend/services/metadata"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/registry"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// appFS is the filesystem used to read local configuration overrides. It is a
// package variable so tests can swap in an in-memory filesystem.
var appFS = afero.NewOsFs()

// localOverridesPath is where a local build looks for configuration
// overrides.
const localOverridesPath = "config_overrides.json"

// getConfigFromDB fetches service-global configuration values from the
// configuration database.
func getConfigFromDB(ctx context.Context, client subscriptions.LabGraphQLClient) (map[string]string, error) {
	env := metadata.GetAppEnvironment()

	switch env {
	case metadata.EnvProd:
		return registry.GetProdConfigs(ctx, client)
	case metadata.EnvStaging:
		return registry.GetStagingConfigs(ctx, client)
	case metadata.EnvDev, metadata.EnvLocalDevWithDB:
		return registry.GetDevConfigs(ctx, client)
	default:
		return nil, utils.MakeError("unexpected app environment %s", env)
	}
}

// getEnabledRegions extracts the list of regions in which labs may be
// provisioned from the data returned by the configuration database and stores
// the result in the string slice pointer provided. This function assumes that
// it is the only one with access to the memory containing the slice. Make
// sure to lock that data before calling this function.
func getEnabledRegions(db map[string]string, regions *[]string) error {
	data, ok := db["ENABLED_REGIONS"]

	if !ok {
		*regions = []string{"us-east-1"}
		rangelogger.Warningf("Configuration key ENABLED_REGIONS not found. Falling "+
			"back to %v", *regions)

		return nil
	}

	var temp []string

	if err := json.Unmarshal([]byte(data), &temp); err != nil {
		return err
	}

	*regions = temp

	rangelogger.Infof("Enabled regions: %v", *regions)

	return nil
}

// getMaxPodsPerOrg extracts the per-organization pod cap from the data
// returned by the configuration database and stores the result in the int
// pointer provided. Make sure to lock that data before calling this function.
func getMaxPodsPerOrg(db map[string]string, podCap *int32) error {
	data, ok := db["MAX_PODS_PER_ORG_INSTANCE"]

	if !ok {
		*podCap = constants.MaxPodsPerOrgInstance
		rangelogger.Warningf("Configuration key MAX_PODS_PER_ORG_INSTANCE not found. Falling "+
			"back to %v", *podCap)

		return nil
	}

	var temp int32

	if err := json.Unmarshal([]byte(data), &temp); err != nil {
		return err
	}

	*podCap = temp

	rangelogger.Infof("Allowed pods per org instance: %v", *podCap)

	return nil
}

// getGatewayURL extracts the remote desktop gateway base URL from the data
// returned by the configuration database and stores the result in the string
// pointer provided.
func getGatewayURL(db map[string]string, gatewayURL *string) {
	data, ok := db["GATEWAY_URL"]

	if !ok {
		*gatewayURL = utils.Sprintf("https://gateway-%s.hackrange.dev", metadata.GetAppEnvironmentLowercase())
		rangelogger.Warningf("Configuration key GATEWAY_URL not found. Falling "+
			"back to %s", *gatewayURL)

		return
	}

	*gatewayURL = data

	rangelogger.Infof("Gateway URL: %s", *gatewayURL)
}

// getSessionDuration extracts the instance lifetime from the data returned by
// the configuration database and stores the result in the duration pointer
// provided.
func getSessionDuration(db map[string]string, duration *time.Duration) {
	fallback := 4 * time.Hour

	data, ok := db["SESSION_DURATION_MINUTES"]
	if !ok {
		*duration = fallback
		rangelogger.Warningf("Configuration key SESSION_DURATION_MINUTES not found. Falling "+
			"back to %s", *duration)

		return
	}

	minutes, err := strconv.Atoi(data)
	if err != nil {
		*duration = fallback
		rangelogger.Errorf("Failed to parse value for configuration key SESSION_DURATION_MINUTES: %s", err)

		return
	}

	*duration = time.Duration(minutes) * time.Minute

	rangelogger.Infof("Session duration: %s", *duration)
}

// getGatewayVersion picks the gateway version for this environment from the
// config database entry, which is used to refuse session handoff to outdated
// gateways.
func getGatewayVersion(dbVersion subscriptions.ServiceVersion, version *string) {
	if dbVersion == (subscriptions.ServiceVersion{}) {
		*version = "0.0.0"
		rangelogger.Warningf("Got an empty gateway version, falling back to %s", *version)

		return
	}

	*version = versionForEnvironment(dbVersion)

	rangelogger.Infof("Gateway version: %v", *version)
}

// initialize populates the configuration singleton with values from the
// configuration database.
func initialize(ctx context.Context, client subscriptions.LabGraphQLClient) error {
	rw.Lock()
	defer rw.Unlock()

	// Copy the existing configuration after acquiring the write lock so we can
	// perform the update atomically.
	newConfig := config

	db, err := getConfigFromDB(ctx, client)

	if err != nil {
		return err
	}

	if err := getEnabledRegions(db, &newConfig.enabledRegions); err != nil {
		return err
	}

	if err := getMaxPodsPerOrg(db, &newConfig.maxPodsPerOrgInstance); err != nil {
		return err
	}

	getGatewayURL(db, &newConfig.gatewayURL)
	getSessionDuration(db, &newConfig.sessionDuration)

	// Get the most recent gateway version from the config database
	dbVersion, err := registry.GetGatewayVersion(ctx, client)
	if err != nil {
		rangelogger.Error(err)
	}

	getGatewayVersion(dbVersion, &newConfig.minGatewayVersion)

	config = newConfig

	return nil
}

// initializeLocal populates the global configuration singleton with static
// data, optionally merged with overrides from a local file.
func initializeLocal(_ context.Context, _ subscriptions.LabGraphQLClient) error {
	rw.Lock()
	defer rw.Unlock()

	newConfig := serviceConfig{
		enabledRegions:        []string{"us-east-1", "test-region"},
		maxPodsPerOrgInstance: constants.MaxPodsPerOrgInstance,
		gatewayURL:            "http://localhost:4822",
		minGatewayVersion:     "0.0.0",
		sessionDuration:       4 * time.Hour,
	}

	overrides, err := readLocalOverrides()
	if err != nil {
		rangelogger.Warningf("Failed to read local configuration overrides: %s", err)
	}

	if len(overrides) != 0 {
		if err := getEnabledRegions(overrides, &newConfig.enabledRegions); err != nil {
			return err
		}

		if err := getMaxPodsPerOrg(overrides, &newConfig.maxPodsPerOrgInstance); err != nil {
			return err
		}

		getGatewayURL(overrides, &newConfig.gatewayURL)
		getSessionDuration(overrides, &newConfig.sessionDuration)
	}

	config = newConfig

	rangelogger.Warningf("Session service local build not fetching configuration " +
		"values from the config database. Using static configuration instead.")

	return nil
}

// readLocalOverrides reads the local overrides file if it exists. The file
// uses the same key/value layout as the config database tables.
func readLocalOverrides() (map[string]string, error) {
	exists, err := afero.Exists(appFS, localOverridesPath)
	if err != nil || !exists {
		return nil, err
	}

	contents, err := afero.ReadFile(appFS, localOverridesPath)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]string)
	if err := json.Unmarshal(contents, &overrides); err != nil {
		return nil, utils.MakeError("malformed local configuration overrides file: %s", err)
	}

	return overrides, nil
}
