package subscriptions // import "github.com/hackrange/hackrange/backend/services/subscriptions"

import (
	"time"

	"github.com/hackrange/hackrange/backend/services/types"
)

// HasuraParams contains the URL and admin AccessKey to pass to the client
// during initialization.
type HasuraParams struct {
	URL       string
	AccessKey string
}

// LabDefinition is the immutable template describing a purchasable lab. It is
// created by the catalogue service and read-only to the orchestrator.
type LabDefinition struct {
	ID            types.LabID        `json:"id"`             // ID of the lab definition
	Provider      types.ProviderKind `json:"provider"`       // Backend provider this lab runs on
	Region        string             `json:"region"`         // Region or node where resources are placed
	AccountModel  string             `json:"account_model"`  // `iam` or `organization`
	ModuleLayout  string             `json:"module_layout"`  // `with-modules` or `without-modules`
	TemplateID    string             `json:"template_id"`    // Provider-side template/image used to provision
	CPU           int64              `json:"cpu"`            // vCPU count for VM-shaped labs
	RAMMb         int64              `json:"ram_mb"`         // Memory for VM-shaped labs
	StorageGb     int64              `json:"storage_gb"`     // Disk for VM-shaped labs
	Services      string             `json:"services"`       // Comma-separated service list for cluster labs
	CleanupPolicy string             `json:"cleanup_policy"` // What teardown does with leftover resources
	Free          bool               `json:"free"`           // Whether the lab is free to enroll
}

// Instance is a custom type to represent a provisioning record. This type is
// meant to be used across the codebase for any operation that does not
// interact with the GraphQL client. For operations that interact with it, use
// the `LabInstances` type instead.
type Instance struct {
	ID          types.InstanceID `json:"id"`           // ID of the instance record
	LabID       types.LabID      `json:"lab_id"`       // Lab definition this instance was provisioned from
	OwnerKind   types.OwnerKind  `json:"owner_kind"`   // `user` or `organization`
	OwnerID     string           `json:"owner_id"`     // ID of the owning user or organization
	CreatedBy   types.UserID     `json:"created_by"`   // Admin/user that created the enrollment
	Provider    string           `json:"provider"`     // Backend provider this instance runs on
	Region      string           `json:"region"`       // Region this instance is placed on
	ProviderID  string           `json:"provider_id"`  // Provider-side resource id (instance id, VMID, lease id)
	Status      string           `json:"status"`       // PENDING, ACTIVE, INACTIVE or EXPIRED
	Launched    bool             `json:"launched"`     // Whether provisioning + credential issuance completed
	EverStarted bool             `json:"ever_started"` // Whether the instance was started at least once
	Running     bool             `json:"running"`      // Whether the instance is currently powered on
	StartedAt   time.Time        `json:"started_at"`   // Timestamp of the first successful launch
	EndsAt      time.Time        `json:"ends_at"`      // Timestamp after which the instance is expired
	CreatedAt   time.Time        `json:"created_at"`   // Timestamp when the record was created
	UpdatedAt   time.Time        `json:"updated_at"`   // Timestamp when the record was last updated
}

// Pod is a custom type to represent a per-user binding under a shared
// organization-owned instance. A pod's launched/running flags are independent
// of its parent instance: the org may have provisioned the account while this
// particular user hasn't started their session yet.
type Pod struct {
	ID          types.PodID      `json:"id"`           // UUID of the pod
	LabID       types.LabID      `json:"lab_id"`       // Lab this pod belongs to
	InstanceID  types.InstanceID `json:"instance_id"`  // Parent instance (back-reference only)
	OrgID       types.OrgID      `json:"org_id"`       // Organization that owns the parent instance
	UserID      types.UserID     `json:"user_id"`      // User this pod is bound to
	Role        string           `json:"role"`         // Role of the bound user
	Launched    bool             `json:"launched"`     // Whether this pod's credential has been issued
	EverStarted bool             `json:"ever_started"` // Whether this pod's session was started at least once
	Running     bool             `json:"running"`      // Whether this pod's session is currently live
	CreatedAt   time.Time        `json:"created_at"`   // Timestamp when the pod was bound
	UpdatedAt   time.Time        `json:"updated_at"`   // Timestamp when the pod was last updated
}

// Credential holds the connection secret issued once per instance or per pod.
// It is owned exclusively by the record that requested it and destroyed on
// teardown, never regenerated while still valid.
type Credential struct {
	ID        string    `json:"id"`         // UUID of the credential row
	OwnerKind string    `json:"owner_kind"` // `instance` or `pod`
	OwnerID   string    `json:"owner_id"`   // ID of the owning instance or pod
	Username  string    `json:"username"`   // Login username
	Password  string    `json:"password"`   // Login password
	Protocol  string    `json:"protocol"`   // Remote desktop protocol (rdp, vnc, ssh)
	Hostname  string    `json:"hostname"`   // Reachable host for the session
	Port      int64     `json:"port"`       // Port the protocol listens on
	CreatedAt time.Time `json:"created_at"` // Timestamp when the credential was issued
}

// ServiceVersion is the entry on the config database holding the minimum
// gateway version the service is compatible with, per environment.
type ServiceVersion struct {
	DevGatewayVersion     string `json:"dev_gateway_version"`
	StagingGatewayVersion string `json:"staging_gateway_version"`
	ProdGatewayVersion    string `json:"prod_gateway_version"`
}

// Handlerfn is used to send subscription handlers to the Subscribe function.
type Handlerfn func(SubscriptionEvent, map[string]interface{}) bool

// HasuraSubscription holds the graphql query and parameters to start the
// subscription. It represents a generic subscription.
type HasuraSubscription struct {
	Query     GraphQLQuery
	Variables map[string]interface{}
	Result    SubscriptionEvent
	Handler   Handlerfn
}

// SubscriptionEvent represents any event received from Hasura subscriptions.
// We define a custom (empty) interface to make the main select on the
// session-service event loop cleaner.
type SubscriptionEvent interface{}

// InstanceEvent represents an occurred event on the `lab_instances` database
// table. This struct is meant to be used by any event that operates on the
// lab_instances database table.
type InstanceEvent struct {
	Instances []Instance `json:"lab_instances"`
}

// PodEvent represents an occurred event on the `lab_pods` database table.
type PodEvent struct {
	Pods []Pod `json:"lab_pods"`
}

// ConfigEvent represents an occurred event on the configuration database.
type ConfigEvent struct {
	Versions []ServiceVersion `json:"service_versions"`
}
