/*
Package registry abstracts all interactions with the database for the
lifecycle engine and reconciler to use. It defines an interface so any
consumers of this package can perform query, update and delete operations
without having to use the Hasura client directly.
*/

package registry

import (
	"context"
	"time"

	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

// RegistryClient is an interface that abstracts all interactions with the
// database. It includes query, insert, update and delete methods for the
// `lab_definitions`, `lab_instances`, `lab_pods` and `lab_credentials`
// tables. By abstracting the methods we can easily test and mock the
// lifecycle actions.
type RegistryClient interface {
	QueryLabDefinition(context.Context, subscriptions.LabGraphQLClient, types.LabID) ([]subscriptions.LabDefinition, error)
	QueryInstance(context.Context, subscriptions.LabGraphQLClient, types.InstanceID) ([]subscriptions.Instance, error)
	QueryInstanceByLabAndOwner(context.Context, subscriptions.LabGraphQLClient, types.LabID, types.OwnerKind, string) ([]subscriptions.Instance, error)
	QueryInstancesByStatus(context.Context, subscriptions.LabGraphQLClient, string) ([]subscriptions.Instance, error)
	QueryExpiredInstances(context.Context, subscriptions.LabGraphQLClient, time.Time) ([]subscriptions.Instance, error)
	InsertInstances(context.Context, subscriptions.LabGraphQLClient, []subscriptions.Instance) (int, error)
	UpdateInstance(context.Context, subscriptions.LabGraphQLClient, subscriptions.Instance) (int, error)
	UpdateInstanceStatus(context.Context, subscriptions.LabGraphQLClient, types.InstanceID, string) (int, error)
	DeleteInstance(context.Context, subscriptions.LabGraphQLClient, types.InstanceID) (int, error)
	QueryPod(context.Context, subscriptions.LabGraphQLClient, types.PodID) ([]subscriptions.Pod, error)
	QueryPodByLabAndUser(context.Context, subscriptions.LabGraphQLClient, types.LabID, types.UserID) ([]subscriptions.Pod, error)
	QueryPodsByLabAndOrg(context.Context, subscriptions.LabGraphQLClient, types.LabID, types.OrgID) ([]subscriptions.Pod, error)
	QueryPodsByInstance(context.Context, subscriptions.LabGraphQLClient, types.InstanceID) ([]subscriptions.Pod, error)
	InsertPods(context.Context, subscriptions.LabGraphQLClient, []subscriptions.Pod) (int, error)
	UpdatePod(context.Context, subscriptions.LabGraphQLClient, subscriptions.Pod) (int, error)
	DeletePod(context.Context, subscriptions.LabGraphQLClient, types.PodID) (int, error)
	DeletePodsByInstance(context.Context, subscriptions.LabGraphQLClient, types.InstanceID) (int, error)
	QueryCredentialByOwner(context.Context, subscriptions.LabGraphQLClient, string, string) ([]subscriptions.Credential, error)
	InsertCredentials(context.Context, subscriptions.LabGraphQLClient, []subscriptions.Credential) (int, error)
	DeleteCredentialByOwner(context.Context, subscriptions.LabGraphQLClient, string, string) (int, error)
}

// DBClient implements `RegistryClient`, it is the default database client
// used by the lifecycle engine.
type DBClient struct{}
