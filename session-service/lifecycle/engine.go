// Package lifecycle implements the state machine that drives lab instances
// between unprovisioned, running, stopped and expired. Every transition runs
// through the same pipeline: permission gate, per-instance lock, provider
// call, registry write. The engine owns the only code path that mutates
// instance rows during a transition.
package lifecycle

import (
	"context"
	"time"

	"github.com/hackrange/hackrange/backend/services/constants"
	"github.com/hackrange/hackrange/backend/services/session-service/broker"
	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/session-service/reconciler"
	"github.com/hackrange/hackrange/backend/services/session-service/registry"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// SessionBroker mints remote desktop sessions for running instances. It is
// an interface so engine tests can stand in a fake gateway.
type SessionBroker interface {
	Connect(ctx context.Context, lab subscriptions.LabDefinition, credential subscriptions.Credential) (broker.SessionHandle, error)
}

// Engine orchestrates lab instance transitions.
type Engine struct {
	Registry      registry.RegistryClient
	GraphQLClient subscriptions.LabGraphQLClient
	Handlers      map[types.ProviderKind]providers.Handler
	Broker        SessionBroker
	Reconciler    *reconciler.Reconciler
	Locks         *LockMap
}

// StatusSnapshot is the engine's answer to a status query.
type StatusSnapshot struct {
	InstanceID types.InstanceID `json:"instance_id"`
	Status     string           `json:"status"`
	Running    bool             `json:"running"`
	EndsAt     time.Time        `json:"ends_at"`
}

// NewEngine wires an engine and its reconciler around a shared lock map, so
// reconciliation and transitions serialize on the same per-instance locks.
func NewEngine(registryClient registry.RegistryClient, graphQLClient subscriptions.LabGraphQLClient,
	handlers map[types.ProviderKind]providers.Handler, sessionBroker SessionBroker) *Engine {
	locks := NewLockMap()

	return &Engine{
		Registry:      registryClient,
		GraphQLClient: graphQLClient,
		Handlers:      handlers,
		Broker:        sessionBroker,
		Locks:         locks,
		Reconciler: &reconciler.Reconciler{
			Registry:      registryClient,
			GraphQLClient: graphQLClient,
			Handlers:      handlers,
			Locks:         locks,
		},
	}
}

// lab fetches the lab definition an instance was enrolled from.
func (e *Engine) lab(ctx context.Context, labID types.LabID) (subscriptions.LabDefinition, error) {
	labs, err := e.Registry.QueryLabDefinition(ctx, e.GraphQLClient, labID)
	if err != nil {
		return subscriptions.LabDefinition{}, utils.MakeError("failed to query lab %s: %s", labID, err)
	}

	if len(labs) == 0 {
		return subscriptions.LabDefinition{}, utils.MakeError("lab %s: %w", labID, ErrNotFound)
	}

	return labs[0], nil
}

// resolve finds the instance of a lab in the actor's scope: the instance
// owned by the actor personally, or the shared instance owned by the actor's
// organization. For plain users on a shared instance it also resolves their
// pod, which may not exist yet.
func (e *Engine) resolve(ctx context.Context, labID types.LabID, actor Actor) (subscriptions.Instance, *subscriptions.Pod, error) {
	owned, err := e.Registry.QueryInstanceByLabAndOwner(ctx, e.GraphQLClient, labID, types.OwnerUser, string(actor.UserID))
	if err != nil {
		return subscriptions.Instance{}, nil, utils.MakeError("failed to query instances of lab %s: %s", labID, err)
	}

	if len(owned) != 0 {
		return owned[0], nil, nil
	}

	if actor.OrgID == "" {
		return subscriptions.Instance{}, nil, utils.MakeError("lab %s has no instance for user %s: %w", labID, actor.UserID, ErrNotFound)
	}

	shared, err := e.Registry.QueryInstanceByLabAndOwner(ctx, e.GraphQLClient, labID, types.OwnerOrganization, string(actor.OrgID))
	if err != nil {
		return subscriptions.Instance{}, nil, utils.MakeError("failed to query instances of lab %s: %s", labID, err)
	}

	if len(shared) == 0 {
		return subscriptions.Instance{}, nil, utils.MakeError("lab %s has no instance for org %s: %w", labID, actor.OrgID, ErrNotFound)
	}

	instance := shared[0]

	pods, err := e.Registry.QueryPodByLabAndUser(ctx, e.GraphQLClient, labID, actor.UserID)
	if err != nil {
		return subscriptions.Instance{}, nil, utils.MakeError("failed to query pods of lab %s: %s", labID, err)
	}

	if len(pods) != 0 {
		return instance, &pods[0], nil
	}

	return instance, nil, nil
}

// refresh re-reads an instance row. Transitions call it after acquiring the
// instance lock, since a concurrent transition may have committed first.
func (e *Engine) refresh(ctx context.Context, instance subscriptions.Instance) subscriptions.Instance {
	rows, err := e.Registry.QueryInstance(ctx, e.GraphQLClient, instance.ID)
	if err != nil || len(rows) == 0 {
		return instance
	}

	return rows[0]
}

// handlerFor selects the provider adapter for a lab.
func (e *Engine) handlerFor(kind types.ProviderKind) (providers.Handler, error) {
	handler, ok := e.Handlers[kind]
	if !ok {
		return nil, utils.MakeError("no provider handler registered for %s", kind)
	}

	return handler, nil
}

// handleFor rebuilds the provider handle for an instance from its registry
// row.
func handleFor(lab subscriptions.LabDefinition, instance subscriptions.Instance) providers.Handle {
	return providers.Handle{
		ProviderID: instance.ProviderID,
		LabID:      lab.ID,
		Region:     instance.Region,
	}
}

// callProvider runs one adapter call bounded by the provider timeout. The
// call runs on a background context: once a transition is in flight it must
// complete even if the caller goes away, or the registry would be left with
// half-applied flags.
func (e *Engine) callProvider(transition string, id types.InstanceID, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultProviderTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return utils.MakeError("%s of instance %s: %s: %w", transition, id, err, ErrProvisionTimeout)
	}

	return wrapProviderError(id, transition, err)
}

// credentialFor fetches the stored connection secret of an instance or pod.
func (e *Engine) credentialFor(ctx context.Context, ownerKind string, ownerID string) (subscriptions.Credential, error) {
	credentials, err := e.Registry.QueryCredentialByOwner(ctx, e.GraphQLClient, ownerKind, ownerID)
	if err != nil {
		return subscriptions.Credential{}, utils.MakeError("failed to query credential of %s %s: %s", ownerKind, ownerID, err)
	}

	if len(credentials) == 0 {
		return subscriptions.Credential{}, utils.MakeError("%s %s has no credential: %w", ownerKind, ownerID, ErrCredentialFailed)
	}

	return credentials[0], nil
}

// isExpired reports whether an instance passed its end timestamp or was
// already marked expired by the sweep.
func isExpired(instance subscriptions.Instance) bool {
	if instance.Status == "EXPIRED" {
		return true
	}

	return !instance.EndsAt.IsZero() && time.Now().After(instance.EndsAt)
}

// regionEnabled reports whether labs may be placed in the given region.
func regionEnabled(region string) bool {
	for _, enabled := range config.GetEnabledRegions() {
		if enabled == region {
			return true
		}
	}

	return false
}

// resolveStartAction maps a start or restart request onto the transition the
// gate evaluates: a target that was never started gets a cold start, one
// that ran before gets a warm restart.
func resolveStartAction(everStarted bool) Action {
	if everStarted {
		return ActionWarmRestart
	}

	return ActionColdStart
}
