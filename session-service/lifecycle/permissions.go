package lifecycle

import (
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Action is a lifecycle transition evaluated by the permission table. Start
// and restart requests are resolved to a cold start or a warm restart before
// the gate runs, based on whether the target was ever started.
type Action string

const (
	ActionLaunch      Action = "launch"
	ActionColdStart   Action = "coldStart"
	ActionWarmRestart Action = "warmRestart"
	ActionStop        Action = "stop"
	ActionTeardown    Action = "teardown"
)

// Actor is the authenticated caller of a transition, extracted from the
// access token by the HTTP layer.
type Actor struct {
	UserID types.UserID
	OrgID  types.OrgID
	Role   types.Role
}

type permission struct {
	role   types.Role
	owner  types.OwnerKind
	action Action
}

// permissionTable is the declarative gate: a transition not present here is
// denied before anything else is evaluated. Ownership is checked separately
// by authorize.
var permissionTable = map[permission]bool{}

func init() {
	adminRoles := []types.Role{types.RoleSuperadmin, types.RoleOrgSuperadmin, types.RoleLabAdmin}
	allActions := []Action{ActionLaunch, ActionColdStart, ActionWarmRestart, ActionStop, ActionTeardown}
	owners := []types.OwnerKind{types.OwnerUser, types.OwnerOrganization}

	for _, role := range adminRoles {
		for _, owner := range owners {
			for _, action := range allActions {
				permissionTable[permission{role, owner, action}] = true
			}
		}
	}

	// Plain users may drive their own sessions but never destroy resources.
	for _, owner := range owners {
		for _, action := range []Action{ActionLaunch, ActionColdStart, ActionWarmRestart, ActionStop} {
			permissionTable[permission{types.RoleUser, owner, action}] = true
		}
	}
}

// authorize runs the permission table and then the ownership predicate for
// the actor against the instance the transition targets.
func authorize(actor Actor, instance subscriptions.Instance, action Action) error {
	if !permissionTable[permission{actor.Role, instance.OwnerKind, action}] {
		return utils.MakeError("role %s may not %s a %s-owned instance: %w",
			actor.Role, action, instance.OwnerKind, ErrAuthorizationDenied)
	}

	switch actor.Role {
	case types.RoleSuperadmin:
		return nil

	case types.RoleOrgSuperadmin, types.RoleLabAdmin:
		// Admins reach instances they created or that belong to their org.
		if instance.CreatedBy == actor.UserID {
			return nil
		}
		if instance.OwnerKind == types.OwnerOrganization && instance.OwnerID == string(actor.OrgID) {
			return nil
		}

	case types.RoleUser:
		if instance.OwnerKind == types.OwnerUser && instance.OwnerID == string(actor.UserID) {
			return nil
		}
		// Pod-level ownership under a shared org instance is enforced by the
		// engine, which only ever resolves the actor's own pod.
		if instance.OwnerKind == types.OwnerOrganization && instance.OwnerID == string(actor.OrgID) {
			return nil
		}
	}

	return utils.MakeError("user %s does not own instance %s: %w", actor.UserID, instance.ID, ErrAuthorizationDenied)
}
