package subscriptions // import "github.com/hackrange/hackrange/backend/services/subscriptions"

import (
	"time"

	graphql "github.com/hasura/go-graphql-client"
)

// GraphQLQuery is a custom empty interface to represent the graphql queries
// described in this file. An advantage is that these queries can be used both
// as subscriptions and normal queries.
type GraphQLQuery interface{}

// LabDefinitions is the mapping of the `lab_definitions` table. This type
// interacts directly with the GraphQL client, which marshals/unmarshals using
// this type. Only use for GraphQL operations.
type LabDefinitions []struct {
	ID            graphql.String  `graphql:"id"`
	Provider      graphql.String  `graphql:"provider"`
	Region        graphql.String  `graphql:"region"`
	AccountModel  graphql.String  `graphql:"account_model"`
	ModuleLayout  graphql.String  `graphql:"module_layout"`
	TemplateID    graphql.String  `graphql:"template_id"`
	CPU           graphql.Int     `graphql:"cpu"`
	RAMMb         graphql.Int     `graphql:"ram_mb"`
	StorageGb     graphql.Int     `graphql:"storage_gb"`
	Services      graphql.String  `graphql:"services"`
	CleanupPolicy graphql.String  `graphql:"cleanup_policy"`
	Free          graphql.Boolean `graphql:"free"`
}

// LabInstances is the mapping of the `lab_instances` table. This type
// interacts directly with the GraphQL client, which marshals/unmarshals using
// this type. Only use for GraphQL operations.
type LabInstances []struct {
	ID          graphql.String  `graphql:"id"`
	LabID       graphql.String  `graphql:"lab_id"`
	OwnerKind   graphql.String  `graphql:"owner_kind"`
	OwnerID     graphql.String  `graphql:"owner_id"`
	CreatedBy   graphql.String  `graphql:"created_by"`
	Provider    graphql.String  `graphql:"provider"`
	Region      graphql.String  `graphql:"region"`
	ProviderID  graphql.String  `graphql:"provider_id"`
	Status      graphql.String  `graphql:"status"`
	Launched    graphql.Boolean `graphql:"launched"`
	EverStarted graphql.Boolean `graphql:"ever_started"`
	Running     graphql.Boolean `graphql:"running"`
	StartedAt   time.Time       `graphql:"started_at"`
	EndsAt      time.Time       `graphql:"ends_at"`
	CreatedAt   time.Time       `graphql:"created_at"`
	UpdatedAt   time.Time       `graphql:"updated_at"`
	Pods        LabPods         `graphql:"pods"`
}

// LabPods is the mapping of the `lab_pods` table. This type interacts
// directly with the GraphQL client, which marshals/unmarshals using this
// type. Only use for GraphQL operations.
type LabPods []struct {
	ID          graphql.String  `graphql:"id"`
	LabID       graphql.String  `graphql:"lab_id"`
	InstanceID  graphql.String  `graphql:"instance_id"`
	OrgID       graphql.String  `graphql:"org_id"`
	UserID      graphql.String  `graphql:"user_id"`
	Role        graphql.String  `graphql:"role"`
	Launched    graphql.Boolean `graphql:"launched"`
	EverStarted graphql.Boolean `graphql:"ever_started"`
	Running     graphql.Boolean `graphql:"running"`
	CreatedAt   time.Time       `graphql:"created_at"`
	UpdatedAt   time.Time       `graphql:"updated_at"`
}

// LabCredentials is the mapping of the `lab_credentials` table. This type
// interacts directly with the GraphQL client, which marshals/unmarshals using
// this type. Only use for GraphQL operations.
type LabCredentials []struct {
	ID        graphql.String `graphql:"id"`
	OwnerKind graphql.String `graphql:"owner_kind"`
	OwnerID   graphql.String `graphql:"owner_id"`
	Username  graphql.String `graphql:"username"`
	Password  graphql.String `graphql:"password"`
	Protocol  graphql.String `graphql:"protocol"`
	Hostname  graphql.String `graphql:"hostname"`
	Port      graphql.Int    `graphql:"port"`
	CreatedAt time.Time      `graphql:"created_at"`
}

// QueryLabDefinitionById returns the lab definition with the given id.
var QueryLabDefinitionById struct {
	LabDefinitions `graphql:"lab_definitions(where: {id: {_eq: $id}})"`
}

// QueryInstanceById returns an instance that matches the given id.
var QueryInstanceById struct {
	LabInstances `graphql:"lab_instances(where: {id: {_eq: $id}})"`
}

// QueryInstanceByLabAndOwner returns the instance binding the given lab
// definition to the given owner.
var QueryInstanceByLabAndOwner struct {
	LabInstances `graphql:"lab_instances(where: {lab_id: {_eq: $lab_id}, _and: {owner_kind: {_eq: $owner_kind}, _and: {owner_id: {_eq: $owner_id}}}})"`
}

// QueryInstancesByStatus returns any instance that matches the given status.
var QueryInstancesByStatus struct {
	LabInstances `graphql:"lab_instances(where: {status: {_eq: $status}})"`
}

// QueryExpiredInstances returns every instance whose end timestamp has
// already passed and that has not been marked expired yet.
var QueryExpiredInstances struct {
	LabInstances `graphql:"lab_instances(where: {ends_at: {_lt: $now}, _and: {status: {_neq: $status}}})"`
}

// QueryPodById returns the pod with the given id.
var QueryPodById struct {
	LabPods `graphql:"lab_pods(where: {id: {_eq: $id}})"`
}

// QueryPodByLabAndUser returns the pod binding the given user to the given lab.
var QueryPodByLabAndUser struct {
	LabPods `graphql:"lab_pods(where: {lab_id: {_eq: $lab_id}, _and: {user_id: {_eq: $user_id}}})"`
}

// QueryPodsByLabAndOrg returns every pod bound under the given lab and
// organization, used for the administrative grouped-by-role listing.
var QueryPodsByLabAndOrg struct {
	LabPods `graphql:"lab_pods(where: {lab_id: {_eq: $lab_id}, _and: {org_id: {_eq: $org_id}}})"`
}

// QueryPodsByInstance returns every pod bound under the given instance.
var QueryPodsByInstance struct {
	LabPods `graphql:"lab_pods(where: {instance_id: {_eq: $instance_id}})"`
}

// QueryCredentialByOwner returns the credential issued for the given
// instance or pod, if any.
var QueryCredentialByOwner struct {
	LabCredentials `graphql:"lab_credentials(where: {owner_kind: {_eq: $owner_kind}, _and: {owner_id: {_eq: $owner_id}}})"`
}

// QueryServiceVersion returns the gateway version entry from the config
// database.
var QueryServiceVersion struct {
	ServiceVersions `graphql:"service_versions"`
}

// ServiceVersions is the mapping of the config database `service_versions`
// table.
type ServiceVersions []struct {
	DevGatewayVersion     graphql.String `graphql:"dev_gateway_version"`
	StagingGatewayVersion graphql.String `graphql:"staging_gateway_version"`
	ProdGatewayVersion    graphql.String `graphql:"prod_gateway_version"`
}

// RangeConfigs is the mapping of the config database per-environment
// key/value tables.
type RangeConfigs []struct {
	Key   graphql.String `graphql:"key"`
	Value graphql.String `graphql:"value"`
}

// QueryDevConfigurations returns all the configuration values for the dev
// environment.
var QueryDevConfigurations struct {
	RangeConfigs `graphql:"dev"`
}

// QueryStagingConfigurations returns all the configuration values for the
// staging environment.
var QueryStagingConfigurations struct {
	RangeConfigs `graphql:"staging"`
}

// QueryProdConfigurations returns all the configuration values for the prod
// environment.
var QueryProdConfigurations struct {
	RangeConfigs `graphql:"prod"`
}
