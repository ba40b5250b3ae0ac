package providers

import "errors"

// Sentinel errors shared by all adapters. The lifecycle engine matches on
// these with errors.Is to decide how a failed transition is reported, so
// adapters wrap them with %w and provider-specific detail.
var (
	// ErrProvisionFailed means the provider could not create the requested
	// resources.
	ErrProvisionFailed = errors.New("provider failed to provision resources")

	// ErrCredentialFailed means the provider could not issue the connection
	// secret for an otherwise healthy handle.
	ErrCredentialFailed = errors.New("provider failed to issue a credential")

	// ErrTransportFailed means the adapter could not reach the provider at
	// all (connection errors, 5xx responses after retries).
	ErrTransportFailed = errors.New("provider transport failed")

	// ErrAlreadyInState means the requested power transition is a no-op
	// because the resources are already in the target state. The engine maps
	// it to success.
	ErrAlreadyInState = errors.New("resources already in requested state")
)
