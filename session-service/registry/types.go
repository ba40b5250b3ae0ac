package registry

import (
	"time"

	"github.com/hasura/go-graphql-client"

	"github.com/hackrange/hackrange/backend/services/utils"
)

// The timestamptz type is an alias for the Time type from the standard
// library time package. Graphql query variables that are timestamps should be
// instances of the timestamptz type. It serves two purposes:
//
//  1. It provides a custom implementation of the Marshaler interface from the
//     json package, so that timestamp variables are serialized the way Hasura
//     expects them.
//  2. It specifies the name of the variable's graphql type. Had we not
//     implemented the GraphQLType interface from the
//     github.com/hasura/go-graphql-client package, the graphql type name
//     would have matched the Go type name.
type timestamptz time.Time

// MarshalJSON implements the Marshaler interface from the standard library
// encoding/json package. It marshals a timestamptz into a JSON string
// containing a timestamp formatted according to the ISO 8601 standard.
func (t timestamptz) MarshalJSON() ([]byte, error) {
	return []byte(utils.Sprintf(`"%s"`, time.Time(t).Format(time.RFC3339))), nil
}

func (t timestamptz) GetGraphQLType() string {
	return "timestamptz"
}

// The following types are not idiomatic go, but are necessary so that Hasura
// can properly recognize mutation inputs and enum types.

// lab_instances_insert_input is a type used for the GraphQL mutations that
// insert to the `lab_instances` database table.
type lab_instances_insert_input struct {
	ID          graphql.String  `json:"id"`
	LabID       graphql.String  `json:"lab_id"`
	OwnerKind   graphql.String  `json:"owner_kind"`
	OwnerID     graphql.String  `json:"owner_id"`
	CreatedBy   graphql.String  `json:"created_by"`
	Provider    graphql.String  `json:"provider"`
	Region      graphql.String  `json:"region"`
	ProviderID  graphql.String  `json:"provider_id"`
	Status      graphql.String  `json:"status"`
	Launched    graphql.Boolean `json:"launched"`
	EverStarted graphql.Boolean `json:"ever_started"`
	Running     graphql.Boolean `json:"running"`
	StartedAt   time.Time       `json:"started_at"`
	EndsAt      time.Time       `json:"ends_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// lab_instances_set_input is a type used for the GraphQL mutations that
// update the `lab_instances` database table.
type lab_instances_set_input struct {
	ID          graphql.String  `json:"id"`
	LabID       graphql.String  `json:"lab_id"`
	OwnerKind   graphql.String  `json:"owner_kind"`
	OwnerID     graphql.String  `json:"owner_id"`
	CreatedBy   graphql.String  `json:"created_by"`
	Provider    graphql.String  `json:"provider"`
	Region      graphql.String  `json:"region"`
	ProviderID  graphql.String  `json:"provider_id"`
	Status      graphql.String  `json:"status"`
	Launched    graphql.Boolean `json:"launched"`
	EverStarted graphql.Boolean `json:"ever_started"`
	Running     graphql.Boolean `json:"running"`
	StartedAt   time.Time       `json:"started_at"`
	EndsAt      time.Time       `json:"ends_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// lab_pods_insert_input is a type used for the GraphQL mutations that insert
// rows to the `lab_pods` database table.
type lab_pods_insert_input struct {
	ID          graphql.String  `json:"id"`
	LabID       graphql.String  `json:"lab_id"`
	InstanceID  graphql.String  `json:"instance_id"`
	OrgID       graphql.String  `json:"org_id"`
	UserID      graphql.String  `json:"user_id"`
	Role        graphql.String  `json:"role"`
	Launched    graphql.Boolean `json:"launched"`
	EverStarted graphql.Boolean `json:"ever_started"`
	Running     graphql.Boolean `json:"running"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// lab_pods_set_input is a type used for the GraphQL mutations that update a
// row on the `lab_pods` database table.
type lab_pods_set_input struct {
	ID          graphql.String  `json:"id"`
	LabID       graphql.String  `json:"lab_id"`
	InstanceID  graphql.String  `json:"instance_id"`
	OrgID       graphql.String  `json:"org_id"`
	UserID      graphql.String  `json:"user_id"`
	Role        graphql.String  `json:"role"`
	Launched    graphql.Boolean `json:"launched"`
	EverStarted graphql.Boolean `json:"ever_started"`
	Running     graphql.Boolean `json:"running"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// lab_credentials_insert_input is a type used for the GraphQL mutations that
// insert rows to the `lab_credentials` database table.
type lab_credentials_insert_input struct {
	ID        graphql.String `json:"id"`
	OwnerKind graphql.String `json:"owner_kind"`
	OwnerID   graphql.String `json:"owner_id"`
	Username  graphql.String `json:"username"`
	Password  graphql.String `json:"password"`
	Protocol  graphql.String `json:"protocol"`
	Hostname  graphql.String `json:"hostname"`
	Port      graphql.Int    `json:"port"`
	CreatedAt time.Time      `json:"created_at"`
}
