package registry

import (
	"context"

	"github.com/hackrange/hackrange/backend/services/metadata"
	"github.com/hackrange/hackrange/backend/services/subscriptions"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// These functions are standalone (do not belong to a RegistryClient
// implementation) because they are only used for populating configuration
// values before starting the lifecycle engine.

// GetDevConfigs will query the config database's `dev` table and parse the result as a map[string]string.
func GetDevConfigs(ctx context.Context, client subscriptions.LabGraphQLClient) (map[string]string, error) {
	query := subscriptions.QueryDevConfigurations
	err := client.Query(ctx, &query, map[string]interface{}{})
	if err != nil {
		return nil, utils.MakeError("failed to query config database for configuration values of env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
	}

	if len(query.RangeConfigs) == 0 {
		return nil, utils.MakeError("could not find dev configs on database")
	}

	// Convert to a map for easier manipulation
	configMap := make(map[string]string)
	for _, entry := range query.RangeConfigs {
		configMap[string(entry.Key)] = string(entry.Value)
	}

	return configMap, nil
}

// GetStagingConfigs will query the config database's `staging` table and parse the result as a map[string]string.
func GetStagingConfigs(ctx context.Context, client subscriptions.LabGraphQLClient) (map[string]string, error) {
	query := subscriptions.QueryStagingConfigurations
	err := client.Query(ctx, &query, map[string]interface{}{})
	if err != nil {
		return nil, utils.MakeError("failed to query config database for configuration values of env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
	}

	if len(query.RangeConfigs) == 0 {
		return nil, utils.MakeError("could not find staging configs on database")
	}

	// Convert to a map for easier manipulation
	configMap := make(map[string]string)
	for _, entry := range query.RangeConfigs {
		configMap[string(entry.Key)] = string(entry.Value)
	}

	return configMap, nil
}

// GetProdConfigs will query the config database's `prod` table and parse the result as a map[string]string.
func GetProdConfigs(ctx context.Context, client subscriptions.LabGraphQLClient) (map[string]string, error) {
	query := subscriptions.QueryProdConfigurations
	err := client.Query(ctx, &query, map[string]interface{}{})
	if err != nil {
		return nil, utils.MakeError("failed to query config database for configuration values of env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
	}

	if len(query.RangeConfigs) == 0 {
		return nil, utils.MakeError("could not find prod configs on database")
	}

	// Convert to a map for easier manipulation
	configMap := make(map[string]string)
	for _, entry := range query.RangeConfigs {
		configMap[string(entry.Key)] = string(entry.Value)
	}

	return configMap, nil
}

// GetGatewayVersion queries the config database for the current gateway
// version entry.
func GetGatewayVersion(ctx context.Context, client subscriptions.LabGraphQLClient) (subscriptions.ServiceVersion, error) {
	query := subscriptions.QueryServiceVersion
	err := client.Query(ctx, &query, map[string]interface{}{})
	if err != nil {
		return subscriptions.ServiceVersion{}, utils.MakeError("failed to query config database for gateway version: %s", err)
	}

	if len(query.ServiceVersions) == 0 {
		return subscriptions.ServiceVersion{}, utils.MakeError("could not find gateway version entry on database")
	}

	row := query.ServiceVersions[0]

	return subscriptions.ServiceVersion{
		DevGatewayVersion:     string(row.DevGatewayVersion),
		StagingGatewayVersion: string(row.StagingGatewayVersion),
		ProdGatewayVersion:    string(row.ProdGatewayVersion),
	}, nil
}
