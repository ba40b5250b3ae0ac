package lifecycle

import (
	"context"
	"errors"

	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// The error taxonomy surfaced by the lifecycle engine. HTTP handlers map
// these onto response codes, so every failed transition wraps exactly one of
// them together with the instance id and the transition name.
var (
	// ErrAuthorizationDenied means the permission table or the ownership
	// predicate rejected the actor.
	ErrAuthorizationDenied = errors.New("actor is not allowed to perform this transition")

	// ErrNotFound means no instance of the lab is enrolled for this actor's
	// scope.
	ErrNotFound = errors.New("no instance found for this lab and owner")

	// ErrExpired means the instance passed its end timestamp. Every
	// transition except teardown short-circuits on it.
	ErrExpired = errors.New("instance is expired")

	// ErrQuotaExceeded means binding another pod would push the shared
	// organization instance over its pod cap.
	ErrQuotaExceeded = errors.New("organization pod quota exceeded")

	// ErrRegionNotEnabled means the requested placement region is not in the
	// configured region list.
	ErrRegionNotEnabled = errors.New("placement region is not enabled")

	// ErrProvisionFailed means the provider could not create the resources.
	ErrProvisionFailed = errors.New("provisioning failed")

	// ErrCredentialFailed means credential issuance failed after a
	// successful provision. The provision is rolled back when this happens.
	ErrCredentialFailed = errors.New("credential issuance failed")

	// ErrTransportFailed means the provider could not be reached.
	ErrTransportFailed = errors.New("provider transport failed")

	// ErrProvisionTimeout means a provider call exceeded its deadline.
	ErrProvisionTimeout = errors.New("provider call timed out")
)

// wrapProviderError translates an adapter error into the engine's taxonomy,
// annotated with the instance and transition it happened on. An adapter
// reporting the resources already in the requested state is mapped to
// success.
func wrapProviderError(instanceID types.InstanceID, transition string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, providers.ErrAlreadyInState):
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return utils.MakeError("%s of instance %s: %s: %w", transition, instanceID, err, ErrProvisionTimeout)
	case errors.Is(err, providers.ErrProvisionFailed):
		return utils.MakeError("%s of instance %s: %s: %w", transition, instanceID, err, ErrProvisionFailed)
	case errors.Is(err, providers.ErrCredentialFailed):
		return utils.MakeError("%s of instance %s: %s: %w", transition, instanceID, err, ErrCredentialFailed)
	default:
		return utils.MakeError("%s of instance %s: %s: %w", transition, instanceID, err, ErrTransportFailed)
	}
}
