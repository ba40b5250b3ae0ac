package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/broker"
	"github.com/hackrange/hackrange/backend/services/session-service/config"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/session-service/registry"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Launch provisions the actor's instance of a lab if needed, issues its
// credential exactly once and brokers a session. Launching an instance that
// is already launched performs no provider calls and returns a session on
// the existing credential.
func (e *Engine) Launch(ctx context.Context, labID types.LabID, region types.PlacementRegion, actor Actor) (broker.SessionHandle, error) {
	rangelogger.Infof("Starting launch action for lab %s requested by user %s", labID, actor.UserID)
	defer rangelogger.Infof("Finished launch action for lab %s", labID)

	lab, err := e.lab(ctx, labID)
	if err != nil {
		return broker.SessionHandle{}, err
	}

	instance, pod, err := e.resolve(ctx, labID, actor)
	if err != nil {
		return broker.SessionHandle{}, err
	}

	if err := authorize(actor, instance, ActionLaunch); err != nil {
		return broker.SessionHandle{}, err
	}

	unlock := e.Locks.Lock(instance.ID)
	defer unlock()

	// Expiry is checked on the row re-read under the lock, so a transition
	// racing the expiry sweep sees the swept state.
	instance = e.refresh(ctx, instance)

	if isExpired(instance) {
		return broker.SessionHandle{}, utils.MakeError("launch of instance %s: %w", instance.ID, ErrExpired)
	}

	podScope := actor.Role == types.RoleUser && instance.OwnerKind == types.OwnerOrganization

	if !instance.Launched {
		if podScope {
			return broker.SessionHandle{}, utils.MakeError("instance %s has not been launched by an administrator yet: %w", instance.ID, ErrNotFound)
		}

		placement := string(region)
		if placement == "" {
			placement = instance.Region
		}
		if placement == "" {
			placement = lab.Region
		}

		if !regionEnabled(placement) {
			return broker.SessionHandle{}, utils.MakeError("launch of instance %s in region %s: %w", instance.ID, placement, ErrRegionNotEnabled)
		}

		instance, err = e.provisionInstance(ctx, lab, instance, placement)
		if err != nil {
			return broker.SessionHandle{}, err
		}
	}

	var credential subscriptions.Credential

	if podScope {
		credential, err = e.ensurePod(ctx, lab, instance, pod, actor)
	} else {
		credential, err = e.credentialFor(ctx, "instance", string(instance.ID))
	}
	if err != nil {
		return broker.SessionHandle{}, err
	}

	return e.Broker.Connect(ctx, lab, credential)
}

// provisionInstance performs the one-time provision and credential issuance
// for an instance. If anything past the provision fails, the provider handle
// is torn back down so the instance stays unprovisioned rather than leaking
// resources it has no credential for.
func (e *Engine) provisionInstance(ctx context.Context, lab subscriptions.LabDefinition, instance subscriptions.Instance, placement string) (subscriptions.Instance, error) {
	handler, err := e.handlerFor(lab.Provider)
	if err != nil {
		return instance, err
	}

	spec := providers.ProvisionSpec{
		Lab:        lab,
		InstanceID: instance.ID,
		OwnerKind:  instance.OwnerKind,
		OwnerID:    instance.OwnerID,
		Region:     placement,
	}

	var handle providers.Handle

	if err := e.callProvider("launch", instance.ID, func(pctx context.Context) error {
		var perr error
		handle, perr = handler.Provision(pctx, spec)
		return perr
	}); err != nil {
		return instance, err
	}

	var minted providers.Credential

	if err := e.callProvider("launch", instance.ID, func(pctx context.Context) error {
		var cerr error
		minted, cerr = handler.IssueCredential(pctx, handle)
		return cerr
	}); err != nil {
		e.rollbackProvision(handler, instance.ID, handle)
		return instance, err
	}

	// Registry writes past this point run on a background context. The
	// provider side effects already happened, so abandoning them would
	// leave the instance half-applied.
	wctx := context.Background()

	stored := subscriptions.Credential{
		ID:        uuid.NewString(),
		OwnerKind: "instance",
		OwnerID:   string(instance.ID),
		Username:  minted.Username,
		Password:  minted.Password,
		Protocol:  minted.Protocol,
		Hostname:  minted.Hostname,
		Port:      minted.Port,
		CreatedAt: time.Now(),
	}

	if _, err := e.Registry.InsertCredentials(wctx, e.GraphQLClient, []subscriptions.Credential{stored}); err != nil {
		e.rollbackProvision(handler, instance.ID, handle)
		return instance, utils.MakeError("failed to store credential of instance %s: %s: %w", instance.ID, err, ErrCredentialFailed)
	}

	now := time.Now()

	updated := instance
	updated.ProviderID = handle.ProviderID
	updated.Region = placement
	updated.Status = "ACTIVE"
	updated.Launched = true
	updated.EverStarted = true
	updated.Running = true
	updated.StartedAt = now
	updated.EndsAt = now.Add(config.GetSessionDuration())

	if _, err := e.Registry.UpdateInstance(wctx, e.GraphQLClient, updated); err != nil {
		if _, derr := e.Registry.DeleteCredentialByOwner(wctx, e.GraphQLClient, "instance", string(instance.ID)); derr != nil {
			rangelogger.Errorf("Failed to delete credential of instance %s during rollback: %s", instance.ID, derr)
		}
		e.rollbackProvision(handler, instance.ID, handle)

		return instance, utils.MakeError("failed to record launch of instance %s: %s: %w", instance.ID, err, ErrProvisionFailed)
	}

	rangelogger.Infof("Provisioned instance %s on %s as %s", instance.ID, lab.Provider, handle.ProviderID)

	return updated, nil
}

// rollbackProvision tears a fresh provider handle back down after a failure
// later in the launch pipeline.
func (e *Engine) rollbackProvision(handler providers.Handler, id types.InstanceID, handle providers.Handle) {
	rangelogger.Warningf("Rolling back provision of instance %s", id)

	if err := e.callProvider("rollback", id, func(pctx context.Context) error {
		return handler.Teardown(pctx, handle)
	}); err != nil {
		rangelogger.Errorf("Failed to roll back provision of instance %s: %s", id, err)
	}
}

// ensurePod binds the actor to the shared instance, minting the pod's
// credential exactly once. A pod that is already launched is returned as-is
// with zero provider calls.
func (e *Engine) ensurePod(ctx context.Context, lab subscriptions.LabDefinition, instance subscriptions.Instance, pod *subscriptions.Pod, actor Actor) (subscriptions.Credential, error) {
	if pod != nil && pod.Launched {
		if !pod.Running {
			updated := *pod
			updated.Running = true

			if _, err := e.Registry.UpdatePod(ctx, e.GraphQLClient, updated); err != nil {
				return subscriptions.Credential{}, utils.MakeError("failed to update pod %s: %s", pod.ID, err)
			}
		}

		return e.credentialFor(ctx, "pod", pod.ID.String())
	}

	if pod == nil {
		pods, err := e.Registry.QueryPodsByInstance(ctx, e.GraphQLClient, instance.ID)
		if err != nil {
			return subscriptions.Credential{}, utils.MakeError("failed to query pods of instance %s: %s", instance.ID, err)
		}

		// Every bound pod counts toward the cap, live session or not.
		if int32(registry.CountActivePods(pods)) >= config.GetMaxPodsPerOrgInstance() {
			return subscriptions.Credential{}, utils.MakeError("instance %s already has %d bound pods: %w",
				instance.ID, len(pods), ErrQuotaExceeded)
		}
	}

	handler, err := e.handlerFor(lab.Provider)
	if err != nil {
		return subscriptions.Credential{}, err
	}

	var minted providers.Credential

	if err := e.callProvider("launch", instance.ID, func(pctx context.Context) error {
		var cerr error
		minted, cerr = handler.IssueCredential(pctx, handleFor(lab, instance))
		return cerr
	}); err != nil {
		return subscriptions.Credential{}, err
	}

	wctx := context.Background()
	now := time.Now()

	bound := subscriptions.Pod{
		ID:          types.PodID(uuid.New()),
		LabID:       lab.ID,
		InstanceID:  instance.ID,
		OrgID:       types.OrgID(instance.OwnerID),
		UserID:      actor.UserID,
		Role:        string(actor.Role),
		Launched:    true,
		EverStarted: true,
		Running:     true,
		CreatedAt:   now,
	}

	if pod != nil {
		bound.ID = pod.ID
		bound.CreatedAt = pod.CreatedAt

		if _, err := e.Registry.UpdatePod(wctx, e.GraphQLClient, bound); err != nil {
			return subscriptions.Credential{}, utils.MakeError("failed to update pod %s: %s", bound.ID, err)
		}
	} else {
		if _, err := e.Registry.InsertPods(wctx, e.GraphQLClient, []subscriptions.Pod{bound}); err != nil {
			return subscriptions.Credential{}, utils.MakeError("failed to bind pod for user %s: %s", actor.UserID, err)
		}
	}

	stored := subscriptions.Credential{
		ID:        uuid.NewString(),
		OwnerKind: "pod",
		OwnerID:   bound.ID.String(),
		Username:  minted.Username,
		Password:  minted.Password,
		Protocol:  minted.Protocol,
		Hostname:  minted.Hostname,
		Port:      minted.Port,
		CreatedAt: now,
	}

	if _, err := e.Registry.InsertCredentials(wctx, e.GraphQLClient, []subscriptions.Credential{stored}); err != nil {
		if pod == nil {
			if _, derr := e.Registry.DeletePod(wctx, e.GraphQLClient, bound.ID); derr != nil {
				rangelogger.Errorf("Failed to delete pod %s during rollback: %s", bound.ID, derr)
			}
		}

		return subscriptions.Credential{}, utils.MakeError("failed to store credential of pod %s: %s: %w", bound.ID, err, ErrCredentialFailed)
	}

	rangelogger.Infof("Bound pod %s for user %s under instance %s", bound.ID, actor.UserID, instance.ID)

	return stored, nil
}

// Start resumes the actor's instance or pod and brokers a fresh session.
func (e *Engine) Start(ctx context.Context, labID types.LabID, actor Actor) (broker.SessionHandle, error) {
	rangelogger.Infof("Starting start action for lab %s requested by user %s", labID, actor.UserID)
	defer rangelogger.Infof("Finished start action for lab %s", labID)

	return e.powerOn(ctx, labID, actor)
}

// Restart power-cycles the actor's instance or pod and brokers a fresh
// session. It resolves to the same transitions as Start: what actually runs
// depends on whether the target was ever started.
func (e *Engine) Restart(ctx context.Context, labID types.LabID, actor Actor) (broker.SessionHandle, error) {
	rangelogger.Infof("Starting restart action for lab %s requested by user %s", labID, actor.UserID)
	defer rangelogger.Infof("Finished restart action for lab %s", labID)

	return e.powerOn(ctx, labID, actor)
}

func (e *Engine) powerOn(ctx context.Context, labID types.LabID, actor Actor) (broker.SessionHandle, error) {
	lab, err := e.lab(ctx, labID)
	if err != nil {
		return broker.SessionHandle{}, err
	}

	instance, pod, err := e.resolve(ctx, labID, actor)
	if err != nil {
		return broker.SessionHandle{}, err
	}

	podScope := actor.Role == types.RoleUser && instance.OwnerKind == types.OwnerOrganization

	everStarted := instance.EverStarted
	if podScope && pod != nil {
		everStarted = pod.EverStarted
	}
	action := resolveStartAction(everStarted)

	if err := authorize(actor, instance, action); err != nil {
		return broker.SessionHandle{}, err
	}

	unlock := e.Locks.Lock(instance.ID)
	defer unlock()

	instance = e.refresh(ctx, instance)

	if isExpired(instance) {
		return broker.SessionHandle{}, utils.MakeError("%s of instance %s: %w", action, instance.ID, ErrExpired)
	}

	if !instance.Launched {
		return broker.SessionHandle{}, utils.MakeError("instance %s has not been launched yet: %w", instance.ID, ErrNotFound)
	}

	var credential subscriptions.Credential

	if podScope {
		if pod == nil || !pod.Launched {
			return broker.SessionHandle{}, utils.MakeError("user %s has no launched pod under instance %s: %w", actor.UserID, instance.ID, ErrNotFound)
		}

		if !instance.Running {
			return broker.SessionHandle{}, utils.MakeError("shared instance %s is stopped, only an administrator may start it: %w", instance.ID, ErrAuthorizationDenied)
		}

		updated := *pod
		updated.Running = true
		updated.EverStarted = true

		if _, err := e.Registry.UpdatePod(context.Background(), e.GraphQLClient, updated); err != nil {
			return broker.SessionHandle{}, utils.MakeError("failed to update pod %s: %s", pod.ID, err)
		}

		credential, err = e.credentialFor(ctx, "pod", pod.ID.String())
	} else {
		handler, herr := e.handlerFor(lab.Provider)
		if herr != nil {
			return broker.SessionHandle{}, herr
		}

		if err := e.callProvider(string(action), instance.ID, func(pctx context.Context) error {
			if action == ActionColdStart {
				return handler.Start(pctx, handleFor(lab, instance))
			}
			return handler.Restart(pctx, handleFor(lab, instance))
		}); err != nil {
			return broker.SessionHandle{}, err
		}

		updated := instance
		updated.Running = true
		updated.EverStarted = true
		updated.Status = "ACTIVE"

		if _, err := e.Registry.UpdateInstance(context.Background(), e.GraphQLClient, updated); err != nil {
			return broker.SessionHandle{}, utils.MakeError("failed to record %s of instance %s: %s", action, instance.ID, err)
		}

		credential, err = e.credentialFor(ctx, "instance", string(instance.ID))
	}
	if err != nil {
		return broker.SessionHandle{}, err
	}

	return e.Broker.Connect(ctx, lab, credential)
}

// Stop powers the actor's instance down, or marks their pod's session ended
// when the instance is shared. If the provider call fails nothing is
// written, the registry keeps reporting the last confirmed state.
func (e *Engine) Stop(ctx context.Context, labID types.LabID, actor Actor) error {
	rangelogger.Infof("Starting stop action for lab %s requested by user %s", labID, actor.UserID)
	defer rangelogger.Infof("Finished stop action for lab %s", labID)

	lab, err := e.lab(ctx, labID)
	if err != nil {
		return err
	}

	instance, pod, err := e.resolve(ctx, labID, actor)
	if err != nil {
		return err
	}

	if err := authorize(actor, instance, ActionStop); err != nil {
		return err
	}

	unlock := e.Locks.Lock(instance.ID)
	defer unlock()

	instance = e.refresh(ctx, instance)

	if isExpired(instance) {
		return utils.MakeError("stop of instance %s: %w", instance.ID, ErrExpired)
	}

	if actor.Role == types.RoleUser && instance.OwnerKind == types.OwnerOrganization {
		// Pod scope: the shared instance stays up for everyone else.
		if pod == nil {
			return utils.MakeError("user %s has no pod under instance %s: %w", actor.UserID, instance.ID, ErrNotFound)
		}

		updated := *pod
		updated.Running = false

		if _, err := e.Registry.UpdatePod(context.Background(), e.GraphQLClient, updated); err != nil {
			return utils.MakeError("failed to update pod %s: %s", pod.ID, err)
		}

		return nil
	}

	if !instance.Launched {
		return utils.MakeError("instance %s has not been launched yet: %w", instance.ID, ErrNotFound)
	}

	handler, err := e.handlerFor(lab.Provider)
	if err != nil {
		return err
	}

	if err := e.callProvider("stop", instance.ID, func(pctx context.Context) error {
		return handler.Stop(pctx, handleFor(lab, instance))
	}); err != nil {
		return err
	}

	updated := instance
	updated.Running = false
	updated.Status = "INACTIVE"

	if _, err := e.Registry.UpdateInstance(context.Background(), e.GraphQLClient, updated); err != nil {
		return utils.MakeError("failed to record stop of instance %s: %s", instance.ID, err)
	}

	return nil
}

// Teardown destroys the provider resources of the actor's instance and
// deletes its registry rows: credentials first, then pods, then the
// instance itself. Unlike other transitions it is allowed on expired
// instances, since cleaning those up is its job.
func (e *Engine) Teardown(ctx context.Context, labID types.LabID, actor Actor) error {
	rangelogger.Infof("Starting teardown action for lab %s requested by user %s", labID, actor.UserID)
	defer rangelogger.Infof("Finished teardown action for lab %s", labID)

	lab, err := e.lab(ctx, labID)
	if err != nil {
		return err
	}

	instance, _, err := e.resolve(ctx, labID, actor)
	if err != nil {
		return err
	}

	if err := authorize(actor, instance, ActionTeardown); err != nil {
		return err
	}

	unlock := e.Locks.Lock(instance.ID)
	defer unlock()

	return e.teardownInstance(e.refresh(ctx, instance), lab)
}

// teardownInstance is the shared teardown path used by explicit teardown
// requests and the expiry sweep. The caller holds the instance lock.
func (e *Engine) teardownInstance(instance subscriptions.Instance, lab subscriptions.LabDefinition) error {
	if instance.Launched && instance.ProviderID != "" {
		handler, err := e.handlerFor(lab.Provider)
		if err != nil {
			return err
		}

		if err := e.callProvider("teardown", instance.ID, func(pctx context.Context) error {
			return handler.Teardown(pctx, handleFor(lab, instance))
		}); err != nil {
			return err
		}
	}

	wctx := context.Background()

	pods, err := e.Registry.QueryPodsByInstance(wctx, e.GraphQLClient, instance.ID)
	if err != nil {
		return utils.MakeError("failed to query pods of instance %s: %s", instance.ID, err)
	}

	for _, pod := range pods {
		if _, err := e.Registry.DeleteCredentialByOwner(wctx, e.GraphQLClient, "pod", pod.ID.String()); err != nil {
			return utils.MakeError("failed to delete credential of pod %s: %s", pod.ID, err)
		}
	}

	if _, err := e.Registry.DeleteCredentialByOwner(wctx, e.GraphQLClient, "instance", string(instance.ID)); err != nil {
		return utils.MakeError("failed to delete credential of instance %s: %s", instance.ID, err)
	}

	if _, err := e.Registry.DeletePodsByInstance(wctx, e.GraphQLClient, instance.ID); err != nil {
		return utils.MakeError("failed to delete pods of instance %s: %s", instance.ID, err)
	}

	if _, err := e.Registry.DeleteInstance(wctx, e.GraphQLClient, instance.ID); err != nil {
		return utils.MakeError("failed to delete instance %s: %s", instance.ID, err)
	}

	rangelogger.Infof("Tore down instance %s and %d pod(s)", instance.ID, len(pods))

	return nil
}

// GetStatus reconciles the actor's instance against its provider and
// returns the resulting snapshot. For plain users on a shared instance the
// running flag reflects their pod, not the instance.
func (e *Engine) GetStatus(ctx context.Context, labID types.LabID, actor Actor) (StatusSnapshot, error) {
	instance, pod, err := e.resolve(ctx, labID, actor)
	if err != nil {
		return StatusSnapshot{}, err
	}

	if e.Reconciler != nil {
		if _, err := e.Reconciler.Reconcile(ctx, instance); err != nil {
			rangelogger.Warningf("Failed to reconcile instance %s for a status query: %s", instance.ID, err)
		} else {
			instance = e.refresh(ctx, instance)
		}
	}

	snapshot := StatusSnapshot{
		InstanceID: instance.ID,
		Status:     instance.Status,
		Running:    instance.Running,
		EndsAt:     instance.EndsAt,
	}

	if actor.Role == types.RoleUser && instance.OwnerKind == types.OwnerOrganization && pod != nil {
		snapshot.Running = pod.Running
	}

	return snapshot, nil
}

// ListPods returns the pods of a lab grouped by role. Admins see every pod
// under their organization, plain users only their own.
func (e *Engine) ListPods(ctx context.Context, labID types.LabID, actor Actor) (map[types.Role][]subscriptions.Pod, error) {
	var pods []subscriptions.Pod
	var err error

	if actor.Role == types.RoleUser {
		pods, err = e.Registry.QueryPodByLabAndUser(ctx, e.GraphQLClient, labID, actor.UserID)
	} else {
		pods, err = e.Registry.QueryPodsByLabAndOrg(ctx, e.GraphQLClient, labID, actor.OrgID)
	}
	if err != nil {
		return nil, utils.MakeError("failed to query pods of lab %s: %s", labID, err)
	}

	return registry.GroupPodsByRole(pods), nil
}

// SweepExpired marks every instance past its end timestamp as expired and
// tears it down. It is invoked by the scheduler and when a subscription
// reports an instance flipping to expired.
func (e *Engine) SweepExpired(ctx context.Context) error {
	rangelogger.Infof("Starting expiry sweep")
	defer rangelogger.Infof("Finished expiry sweep")

	overdue, err := e.Registry.QueryExpiredInstances(ctx, e.GraphQLClient, time.Now())
	if err != nil {
		return utils.MakeError("failed to query overdue instances: %s", err)
	}

	for _, instance := range overdue {
		if _, err := e.Registry.UpdateInstanceStatus(ctx, e.GraphQLClient, instance.ID, "EXPIRED"); err != nil {
			rangelogger.Errorf("Failed to mark instance %s expired: %s", instance.ID, err)
			continue
		}

		lab, err := e.lab(ctx, instance.LabID)
		if err != nil {
			rangelogger.Errorf("Failed to resolve lab of expired instance %s: %s", instance.ID, err)
			continue
		}

		unlock := e.Locks.Lock(instance.ID)
		err = e.teardownInstance(instance, lab)
		unlock()

		if err != nil {
			rangelogger.Errorf("Failed to tear down expired instance %s: %s", instance.ID, err)
		}
	}

	return nil
}
