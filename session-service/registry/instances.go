package registry

import (
	"context"
	"time"

	"github.com/hasura/go-graphql-client"

	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/types"
)

// toInstances converts the raw rows returned by the GraphQL client into the
// plain Instance type used across the codebase.
func toInstances(rows subscriptions.LabInstances) []subscriptions.Instance {
	var instances []subscriptions.Instance
	for _, row := range rows {
		instances = append(instances, subscriptions.Instance{
			ID:          types.InstanceID(row.ID),
			LabID:       types.LabID(row.LabID),
			OwnerKind:   types.OwnerKind(row.OwnerKind),
			OwnerID:     string(row.OwnerID),
			CreatedBy:   types.UserID(row.CreatedBy),
			Provider:    string(row.Provider),
			Region:      string(row.Region),
			ProviderID:  string(row.ProviderID),
			Status:      string(row.Status),
			Launched:    bool(row.Launched),
			EverStarted: bool(row.EverStarted),
			Running:     bool(row.Running),
			StartedAt:   row.StartedAt,
			EndsAt:      row.EndsAt,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}

	return instances
}

// QueryLabDefinition queries the database for the lab definition with the
// given id.
func (client *DBClient) QueryLabDefinition(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, labID types.LabID) ([]subscriptions.LabDefinition, error) {
	labsQuery := subscriptions.QueryLabDefinitionById
	queryParams := map[string]interface{}{
		"id": graphql.String(labID),
	}
	err := graphQLClient.Query(ctx, &labsQuery, queryParams)

	var labs []subscriptions.LabDefinition
	for _, row := range labsQuery.LabDefinitions {
		labs = append(labs, subscriptions.LabDefinition{
			ID:            types.LabID(row.ID),
			Provider:      types.ProviderKind(row.Provider),
			Region:        string(row.Region),
			AccountModel:  string(row.AccountModel),
			ModuleLayout:  string(row.ModuleLayout),
			TemplateID:    string(row.TemplateID),
			CPU:           int64(row.CPU),
			RAMMb:         int64(row.RAMMb),
			StorageGb:     int64(row.StorageGb),
			Services:      string(row.Services),
			CleanupPolicy: string(row.CleanupPolicy),
			Free:          bool(row.Free),
		})
	}

	return labs, err
}

// QueryInstance queries the database for an instance with the received id.
func (client *DBClient) QueryInstance(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, instanceID types.InstanceID) ([]subscriptions.Instance, error) {
	instancesQuery := subscriptions.QueryInstanceById
	queryParams := map[string]interface{}{
		"id": graphql.String(instanceID),
	}
	err := graphQLClient.Query(ctx, &instancesQuery, queryParams)

	return toInstances(instancesQuery.LabInstances), err
}

// QueryInstanceByLabAndOwner queries the database for the instance binding
// the given lab definition to the given owner. At most one such instance
// exists at any time.
func (client *DBClient) QueryInstanceByLabAndOwner(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, labID types.LabID, ownerKind types.OwnerKind, ownerID string) ([]subscriptions.Instance, error) {
	instancesQuery := subscriptions.QueryInstanceByLabAndOwner
	queryParams := map[string]interface{}{
		"lab_id":     graphql.String(labID),
		"owner_kind": graphql.String(ownerKind),
		"owner_id":   graphql.String(ownerID),
	}
	err := graphQLClient.Query(ctx, &instancesQuery, queryParams)

	return toInstances(instancesQuery.LabInstances), err
}

// QueryInstancesByStatus queries the database for every instance in the given
// lifecycle status. The main event loop uses it to pick up the instances to
// reconcile periodically.
func (client *DBClient) QueryInstancesByStatus(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, status string) ([]subscriptions.Instance, error) {
	instancesQuery := subscriptions.QueryInstancesByStatus
	queryParams := map[string]interface{}{
		"status": graphql.String(status),
	}
	err := graphQLClient.Query(ctx, &instancesQuery, queryParams)

	return toInstances(instancesQuery.LabInstances), err
}

// QueryExpiredInstances queries the database for all instances whose end
// timestamp has passed and that haven't been marked expired yet.
func (client *DBClient) QueryExpiredInstances(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, now time.Time) ([]subscriptions.Instance, error) {
	instancesQuery := subscriptions.QueryExpiredInstances
	queryParams := map[string]interface{}{
		"now":    timestamptz(now),
		"status": graphql.String("EXPIRED"),
	}
	err := graphQLClient.Query(ctx, &instancesQuery, queryParams)

	return toInstances(instancesQuery.LabInstances), err
}

// InsertInstances adds the received instances to the database.
func (client *DBClient) InsertInstances(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, insertParams []subscriptions.Instance) (int, error) {
	insertMutation := subscriptions.InsertInstances

	var instancesForDb []lab_instances_insert_input

	// Due to some quirks with the Hasura client, we have to convert the
	// slice of instances to a slice of `lab_instances_insert_input`.
	for _, instance := range insertParams {
		instancesForDb = append(instancesForDb, lab_instances_insert_input{
			ID:          graphql.String(instance.ID),
			LabID:       graphql.String(instance.LabID),
			OwnerKind:   graphql.String(instance.OwnerKind),
			OwnerID:     graphql.String(instance.OwnerID),
			CreatedBy:   graphql.String(instance.CreatedBy),
			Provider:    graphql.String(instance.Provider),
			Region:      graphql.String(instance.Region),
			ProviderID:  graphql.String(instance.ProviderID),
			Status:      graphql.String(instance.Status),
			Launched:    graphql.Boolean(instance.Launched),
			EverStarted: graphql.Boolean(instance.EverStarted),
			Running:     graphql.Boolean(instance.Running),
			StartedAt:   instance.StartedAt,
			EndsAt:      instance.EndsAt,
			CreatedAt:   instance.CreatedAt,
			UpdatedAt:   instance.UpdatedAt,
		})
	}

	mutationParams := map[string]interface{}{
		"objects": instancesForDb,
	}
	err := graphQLClient.Mutate(ctx, &insertMutation, mutationParams)
	return int(insertMutation.MutationResponse.AffectedRows), err
}

// UpdateInstance updates the received fields on the database.
func (client *DBClient) UpdateInstance(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, updateParams subscriptions.Instance) (int, error) {
	updateMutation := subscriptions.UpdateInstance

	// Due to some quirks with the Hasura client, we have to convert the
	// instance to `lab_instances_set_input`.
	instanceForDb := lab_instances_set_input{
		ID:          graphql.String(updateParams.ID),
		LabID:       graphql.String(updateParams.LabID),
		OwnerKind:   graphql.String(updateParams.OwnerKind),
		OwnerID:     graphql.String(updateParams.OwnerID),
		CreatedBy:   graphql.String(updateParams.CreatedBy),
		Provider:    graphql.String(updateParams.Provider),
		Region:      graphql.String(updateParams.Region),
		ProviderID:  graphql.String(updateParams.ProviderID),
		Status:      graphql.String(updateParams.Status),
		Launched:    graphql.Boolean(updateParams.Launched),
		EverStarted: graphql.Boolean(updateParams.EverStarted),
		Running:     graphql.Boolean(updateParams.Running),
		StartedAt:   updateParams.StartedAt,
		EndsAt:      updateParams.EndsAt,
		CreatedAt:   updateParams.CreatedAt,
		UpdatedAt:   time.Now(),
	}

	mutationParams := map[string]interface{}{
		"id":      graphql.String(updateParams.ID),
		"changes": instanceForDb,
	}
	err := graphQLClient.Mutate(ctx, &updateMutation, mutationParams)
	return int(updateMutation.MutationResponse.AffectedRows), err
}

// UpdateInstanceStatus updates only the status of the instance with the given
// id.
func (client *DBClient) UpdateInstanceStatus(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, instanceID types.InstanceID, status string) (int, error) {
	updateMutation := subscriptions.UpdateInstanceStatus
	mutationParams := map[string]interface{}{
		"id":     graphql.String(instanceID),
		"status": graphql.String(status),
	}
	err := graphQLClient.Mutate(ctx, &updateMutation, mutationParams)
	return int(updateMutation.MutationResponse.AffectedRows), err
}

// DeleteInstance removes an instance with the given id from the database.
func (client *DBClient) DeleteInstance(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, instanceID types.InstanceID) (int, error) {
	deleteMutation := subscriptions.DeleteInstanceById
	deleteParams := map[string]interface{}{
		"id": graphql.String(instanceID),
	}
	err := graphQLClient.Mutate(ctx, &deleteMutation, deleteParams)

	return int(deleteMutation.MutationResponse.AffectedRows), err
}
