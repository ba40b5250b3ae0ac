package registry

import (
	"context"

	"github.com/hasura/go-graphql-client"

	"github.com/hackrange/hackrange/backend/services/subscriptions"
)

// QueryCredentialByOwner queries the database for the credential issued for
// the given instance or pod. Credentials are issued exactly once, so at most
// one row exists per owner.
func (client *DBClient) QueryCredentialByOwner(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, ownerKind string, ownerID string) ([]subscriptions.Credential, error) {
	credentialsQuery := subscriptions.QueryCredentialByOwner
	queryParams := map[string]interface{}{
		"owner_kind": graphql.String(ownerKind),
		"owner_id":   graphql.String(ownerID),
	}
	err := graphQLClient.Query(ctx, &credentialsQuery, queryParams)

	var credentials []subscriptions.Credential
	for _, row := range credentialsQuery.LabCredentials {
		credentials = append(credentials, subscriptions.Credential{
			ID:        string(row.ID),
			OwnerKind: string(row.OwnerKind),
			OwnerID:   string(row.OwnerID),
			Username:  string(row.Username),
			Password:  string(row.Password),
			Protocol:  string(row.Protocol),
			Hostname:  string(row.Hostname),
			Port:      int64(row.Port),
			CreatedAt: row.CreatedAt,
		})
	}

	return credentials, err
}

// InsertCredentials adds the received credentials to the database.
func (client *DBClient) InsertCredentials(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, insertParams []subscriptions.Credential) (int, error) {
	insertMutation := subscriptions.InsertCredentials

	var credentialsForDb []lab_credentials_insert_input

	// Due to some quirks with the Hasura client, we have to convert the
	// slice of credentials to a slice of `lab_credentials_insert_input`.
	for _, credential := range insertParams {
		credentialsForDb = append(credentialsForDb, lab_credentials_insert_input{
			ID:        graphql.String(credential.ID),
			OwnerKind: graphql.String(credential.OwnerKind),
			OwnerID:   graphql.String(credential.OwnerID),
			Username:  graphql.String(credential.Username),
			Password:  graphql.String(credential.Password),
			Protocol:  graphql.String(credential.Protocol),
			Hostname:  graphql.String(credential.Hostname),
			Port:      graphql.Int(credential.Port),
			CreatedAt: credential.CreatedAt,
		})
	}

	mutationParams := map[string]interface{}{
		"objects": credentialsForDb,
	}
	err := graphQLClient.Mutate(ctx, &insertMutation, mutationParams)
	return int(insertMutation.MutationResponse.AffectedRows), err
}

// DeleteCredentialByOwner removes the credential issued for the given
// instance or pod from the database. Called on teardown, a credential is
// never regenerated while its owner still exists.
func (client *DBClient) DeleteCredentialByOwner(ctx context.Context, graphQLClient subscriptions.LabGraphQLClient, ownerKind string, ownerID string) (int, error) {
	deleteMutation := subscriptions.DeleteCredentialByOwner
	deleteParams := map[string]interface{}{
		"owner_kind": graphql.String(ownerKind),
		"owner_id":   graphql.String(ownerID),
	}
	err := graphQLClient.Mutate(ctx, &deleteMutation, deleteParams)

	return int(deleteMutation.MutationResponse.AffectedRows), err
}
