package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hasura/go-graphql-client"

	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

// toPods converts the raw rows returned by the GraphQL client into the plain
// Pod type used across the codebase. Rows with a malformed id are dropped
// with a warning rather than failing the whole query.
func toPods(rows subscriptions.LabPods) []subscriptions.Pod {
	var pods []subscriptions.Pod
	for _, row := range rows {
		id, err := uuid.Parse(string(row.ID))
		if err != nil {
			rangelogger.Warningf("Skipping pod row with malformed id %s: %s", row.ID, err)
			continue
		}

		pods = append(pods, subscriptions.Pod{
			ID:          types.PodID(id),
			LabID:       types.LabID(row.LabID),
			InstanceID:  types.InstanceID(row.InstanceID),
			OrgID:       types.OrgID(row.OrgID),
			UserID:      types.UserID(row.UserID),
			Role:        string(row.Role),
			Launched:    bool(row.Launched),
			EverStarted: bool(row.EverStarted),
			Running:     bool(row.Running),
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}

	return pods
}

// QueryPod queries the database for the pod with the given id.
func (client *DBClient) QueryPod(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, podID types.PodID) ([]subscriptions.Pod, error) {
	podsQuery := subscriptions.QueryPodById
	queryParams := map[string]interface{}{
		"id": graphql.String(podID.String()),
	}
	err := graphQLClient.Query(ctx, &podsQuery, queryParams)

	return toPods(podsQuery.LabPods), err
}

// QueryPodByLabAndUser queries the database for the pod binding the given
// user to the given lab. At most one such pod exists at any time.
func (client *DBClient) QueryPodByLabAndUser(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, labID types.LabID, userID types.UserID) ([]subscriptions.Pod, error) {
	podsQuery := subscriptions.QueryPodByLabAndUser
	queryParams := map[string]interface{}{
		"lab_id":  graphql.String(labID),
		"user_id": graphql.String(userID),
	}
	err := graphQLClient.Query(ctx, &podsQuery, queryParams)

	return toPods(podsQuery.LabPods), err
}

// QueryPodsByLabAndOrg queries the database for every pod bound under the
// given lab and organization.
func (client *DBClient) QueryPodsByLabAndOrg(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, labID types.LabID, orgID types.OrgID) ([]subscriptions.Pod, error) {
	podsQuery := subscriptions.QueryPodsByLabAndOrg
	queryParams := map[string]interface{}{
		"lab_id": graphql.String(labID),
		"org_id": graphql.String(orgID),
	}
	err := graphQLClient.Query(ctx, &podsQuery, queryParams)

	return toPods(podsQuery.LabPods), err
}

// QueryPodsByInstance queries the database for every pod bound under the
// given instance.
func (client *DBClient) QueryPodsByInstance(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, instanceID types.InstanceID) ([]subscriptions.Pod, error) {
	podsQuery := subscriptions.QueryPodsByInstance
	queryParams := map[string]interface{}{
		"instance_id": graphql.String(instanceID),
	}
	err := graphQLClient.Query(ctx, &podsQuery, queryParams)

	return toPods(podsQuery.LabPods), err
}

// InsertPods adds the received pods to the database.
func (client *DBClient) InsertPods(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, insertParams []subscriptions.Pod) (int, error) {
	insertMutation := subscriptions.InsertPods

	var podsForDb []lab_pods_insert_input

	// Due to some quirks with the Hasura client, we have to convert the
	// slice of pods to a slice of `lab_pods_insert_input`.
	for _, pod := range insertParams {
		podsForDb = append(podsForDb, lab_pods_insert_input{
			ID:          graphql.String(pod.ID.String()),
			LabID:       graphql.String(pod.LabID),
			InstanceID:  graphql.String(pod.InstanceID),
			OrgID:       graphql.String(pod.OrgID),
			UserID:      graphql.String(pod.UserID),
			Role:        graphql.String(pod.Role),
			Launched:    graphql.Boolean(pod.Launched),
			EverStarted: graphql.Boolean(pod.EverStarted),
			Running:     graphql.Boolean(pod.Running),
			CreatedAt:   pod.CreatedAt,
			UpdatedAt:   pod.UpdatedAt,
		})
	}

	mutationParams := map[string]interface{}{
		"objects": podsForDb,
	}
	err := graphQLClient.Mutate(ctx, &insertMutation, mutationParams)
	return int(insertMutation.MutationResponse.AffectedRows), err
}

// UpdatePod updates the received fields on the database.
func (client *DBClient) UpdatePod(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, updateParams subscriptions.Pod) (int, error) {
	updateMutation := subscriptions.UpdatePod

	// Due to some quirks with the Hasura client, we have to convert the
	// pod to `lab_pods_set_input`.
	podForDb := lab_pods_set_input{
		ID:          graphql.String(updateParams.ID.String()),
		LabID:       graphql.String(updateParams.LabID),
		InstanceID:  graphql.String(updateParams.InstanceID),
		OrgID:       graphql.String(updateParams.OrgID),
		UserID:      graphql.String(updateParams.UserID),
		Role:        graphql.String(updateParams.Role),
		Launched:    graphql.Boolean(updateParams.Launched),
		EverStarted: graphql.Boolean(updateParams.EverStarted),
		Running:     graphql.Boolean(updateParams.Running),
		CreatedAt:   updateParams.CreatedAt,
		UpdatedAt:   time.Now(),
	}

	mutationParams := map[string]interface{}{
		"id":      graphql.String(updateParams.ID.String()),
		"changes": podForDb,
	}
	err := graphQLClient.Mutate(ctx, &updateMutation, mutationParams)
	return int(updateMutation.MutationResponse.AffectedRows), err
}

// DeletePod removes the pod with the given id from the database.
func (client *DBClient) DeletePod(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, podID types.PodID) (int, error) {
	deleteMutation := subscriptions.DeletePodById
	deleteParams := map[string]interface{}{
		"id": graphql.String(podID.String()),
	}
	err := graphQLClient.Mutate(ctx, &deleteMutation, deleteParams)

	return int(deleteMutation.MutationResponse.AffectedRows), err
}

// DeletePodsByInstance removes every pod bound under the given instance from
// the database. Used on teardown of a shared instance.
func (client *DBClient) DeletePodsByInstance(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, instanceID types.InstanceID) (int, error) {
	deleteMutation := subscriptions.DeletePodsByInstance
	deleteParams := map[string]interface{}{
		"instance_id": graphql.String(instanceID),
	}
	err := graphQLClient.Mutate(ctx, &deleteMutation, deleteParams)

	return int(deleteMutation.MutationResponse.AffectedRows), err
}

// GroupPodsByRole groups the received pods by the role of their bound user.
// The dashboard renders the administrative pod listing in role order.
func GroupPodsByRole(pods []subscriptions.Pod) map[types.Role][]subscriptions.Pod {
	grouped := make(map[types.Role][]subscriptions.Pod)
	for _, pod := range pods {
		role := types.Role(pod.Role)
		grouped[role] = append(grouped[role], pod)
	}

	return grouped
}

// CountActivePods returns the number of pods that count against the per-org
// instance cap. Every bound pod counts, whether its session is live or not.
func CountActivePods(pods []subscriptions.Pod) int {
	return len(pods)
}
