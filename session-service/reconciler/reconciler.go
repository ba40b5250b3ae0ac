// Package reconciler converges the registry onto what the backend providers
// actually report. The provider is ground truth: when the registry and the
// adapter disagree about an instance, the registry is rewritten to match.
package reconciler

import (
	"context"

	"golang.org/x/sync/errgroup"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/session-service/providers"
	"github.com/hackrange/hackrange/backend/services/session-service/registry"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Locker hands out the per-instance locks the lifecycle engine serializes
// transitions with. Reconciliation waits on the same locks so it never runs
// inside a transition's lock window.
type Locker interface {
	Lock(id types.InstanceID) (unlock func())
}

// Reconciler checks instances against their provider and rewrites the
// registry when they disagree.
type Reconciler struct {
	Registry      registry.RegistryClient
	GraphQLClient subscriptions.LabGraphQLClient
	Handlers      map[types.ProviderKind]providers.Handler
	Locks         Locker
}

// Reconcile queries the instance's provider for its real status and writes
// the registry to match. A loading provider status is transient: the
// snapshot is returned without writes and the caller retries later. Expired
// instances are left alone, their terminal state belongs to the expiry
// sweep.
func (r *Reconciler) Reconcile(ctx context.Context, instance subscriptions.Instance) (providers.Status, error) {
	if instance.Status == "EXPIRED" {
		return providers.Status{}, nil
	}

	handler, ok := r.Handlers[types.ProviderKind(instance.Provider)]
	if !ok {
		return providers.Status{}, utils.MakeError("no provider handler for %s", instance.Provider)
	}

	unlock := r.Locks.Lock(instance.ID)
	defer unlock()

	status, err := handler.GetStatus(ctx, providers.Handle{
		ProviderID: instance.ProviderID,
		LabID:      instance.LabID,
		Region:     instance.Region,
	})
	if err != nil {
		return providers.Status{}, utils.MakeError("failed to get provider status for instance %s: %s", instance.ID, err)
	}

	if status.Loading {
		return status, nil
	}

	if status.Launched == instance.Launched && status.Running == instance.Running {
		return status, nil
	}

	rangelogger.Warningf("Instance %s drifted from its provider (registry launched=%v running=%v, provider launched=%v running=%v). Converging.",
		instance.ID, instance.Launched, instance.Running, status.Launched, status.Running)

	updated := instance
	updated.Launched = status.Launched
	updated.Running = status.Running

	switch {
	case !status.Launched:
		updated.Status = "PENDING"
	case status.Running:
		updated.Status = "ACTIVE"
	default:
		updated.Status = "INACTIVE"
	}

	affected, err := r.Registry.UpdateInstance(ctx, r.GraphQLClient, updated)
	if err != nil {
		return status, utils.MakeError("failed to converge instance %s: %s", instance.ID, err)
	}

	rangelogger.Infof("Converged %d row(s) for instance %s to launched=%v running=%v status=%s",
		affected, instance.ID, updated.Launched, updated.Running, updated.Status)

	return status, nil
}

// ReconcilePods fans out over an instance's pods. A pod cannot have a live
// session while its parent instance is not running, so such pods are marked
// not running.
func (r *Reconciler) ReconcilePods(ctx context.Context, instance subscriptions.Instance, pods []subscriptions.Pod) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for _, pod := range pods {
		pod := pod

		if !pod.Running || instance.Running {
			continue
		}

		group.Go(func() error {
			updated := pod
			updated.Running = false

			if _, err := r.Registry.UpdatePod(groupCtx, r.GraphQLClient, updated); err != nil {
				return utils.MakeError("failed to converge pod %s: %s", pod.ID, err)
			}

			rangelogger.Infof("Converged pod %s under stopped instance %s", pod.ID, instance.ID)

			return nil
		})
	}

	return group.Wait()
}
