// Package providers defines the uniform capability surface the lifecycle
// engine uses to talk to lab backends. Each backend (AWS IAM slices, single
// EC2 instances, Proxmox VE, the datacenter VM pool, VM clusters) implements
// the Handler interface, so the engine selects an adapter once from the lab
// definition and never branches on the provider again.
package providers

import (
	"context"

	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

// ProvisionSpec carries everything an adapter needs to create the
// provider-side resources backing an instance.
type ProvisionSpec struct {
	// Lab is the definition the instance was enrolled from. Adapters read the
	// template, sizing and layout fields from it.
	Lab subscriptions.LabDefinition

	// InstanceID is the registry id of the instance being provisioned.
	// Adapters use it to name provider-side resources so they can be traced
	// back to the registry.
	InstanceID types.InstanceID

	// OwnerKind is `user` or `organization`.
	OwnerKind types.OwnerKind

	// OwnerID is the id of the owning user or organization.
	OwnerID string

	// Region is the placement region or node the resources go on.
	Region string
}

// Handle identifies the provider-side resources backing an instance. It is
// returned by Provision and passed back in on every later call.
type Handle struct {
	// ProviderID is the provider-side resource id: an EC2 instance id, an IAM
	// user name, a Proxmox VMID, a lease id or an allocation id.
	ProviderID string

	// LabID is the lab definition the resources were provisioned from.
	LabID types.LabID

	// Region is the placement region or node the resources live on.
	Region string

	// Hostname is the reachable host for the session, when the provider
	// knows it at provision time.
	Hostname string

	// Port is the port the session protocol listens on.
	Port int64

	// Protocol is the remote desktop protocol the resources expose
	// (rdp, vnc, ssh or console).
	Protocol string
}

// Credential is the connection secret an adapter issues exactly once per
// handle. The engine persists it in the registry and destroys it on teardown.
type Credential struct {
	Username string
	Password string
	Protocol string
	Hostname string
	Port     int64
}

// Status is the provider-side view of a handle, used by the reconciler as
// ground truth.
type Status struct {
	// Launched reports whether the provider-side resources exist.
	Launched bool

	// Running reports whether the resources are powered on.
	Running bool

	// Loading reports that the resources are mid-transition. Callers should
	// treat the snapshot as transient and retry instead of persisting it.
	Loading bool
}

// Handler is implemented once per backend provider.
type Handler interface {
	// Initialize prepares the adapter's clients for the given region or
	// node. It must be called before any other method.
	Initialize(region string) error

	// Provision creates the provider-side resources for an instance.
	Provision(ctx context.Context, spec ProvisionSpec) (Handle, error)

	// IssueCredential creates the connection secret for a handle. It is
	// called exactly once per handle, right after Provision.
	IssueCredential(ctx context.Context, handle Handle) (Credential, error)

	// Start powers on resources that have never run or were stopped.
	Start(ctx context.Context, handle Handle) error

	// Stop powers off the resources without destroying them.
	Stop(ctx context.Context, handle Handle) error

	// Restart power-cycles resources that are already running.
	Restart(ctx context.Context, handle Handle) error

	// GetStatus reports the provider-side state of the handle.
	GetStatus(ctx context.Context, handle Handle) (Status, error)

	// Teardown destroys the provider-side resources. It is idempotent:
	// tearing down resources that are already gone is not an error.
	Teardown(ctx context.Context, handle Handle) error
}
