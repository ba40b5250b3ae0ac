// Package types contains the identifier types shared between the session
// service packages. We define this package separately so that we can safely
// pass these types around to other packages without import cycles.
package types // import "github.com/hackrange/hackrange/backend/services/types"

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/hackrange/hackrange/backend/services/utils"
)

// We define special types for the following string types for all the benefits
// of type safety, including making sure we never mix up lab, instance and pod
// identifiers.

type (
	// A PodID is a random UUID created for each pod when a user is bound to a
	// shared organization instance. We need an identifier before the provider
	// gives us back any runtime handle for the session.
	PodID uuid.UUID

	// UserID is the id assigned to a user by the authentication provider.
	UserID string

	// OrgID is the id of an organization, as stored by the identity service.
	OrgID string

	// LabID identifies a lab definition in the catalogue.
	LabID string

	// InstanceID identifies a provisioning record binding a lab definition to
	// an owner. Not to be confused with the provider-side resource id, which
	// lives on the provider handle.
	InstanceID string

	// SessionID is a short random token minted by the connection broker for a
	// single remote desktop session.
	SessionID string

	// Role is the actor role evaluated by the authorization gate.
	Role string

	// OwnerKind distinguishes individually owned instances from shared
	// organization instances.
	OwnerKind string

	// ProviderKind selects the backend provider adapter for a lab.
	ProviderKind string

	// PlacementRegion is the region or node where the compute resources exist
	// for a specific provider.
	PlacementRegion string
)

// Roles understood by the permission table.
const (
	RoleSuperadmin    Role = "superadmin"
	RoleOrgSuperadmin Role = "orgsuperadmin"
	RoleLabAdmin      Role = "labadmin"
	RoleUser          Role = "user"
)

// Ownership models.
const (
	OwnerUser         OwnerKind = "user"
	OwnerOrganization OwnerKind = "organization"
)

// Provider kinds. One adapter implementation exists per kind.
const (
	ProviderAWSIAM     ProviderKind = "aws-iam"
	ProviderAWSEC2     ProviderKind = "aws-ec2"
	ProviderProxmox    ProviderKind = "proxmox"
	ProviderDatacenter ProviderKind = "datacenter"
	ProviderCluster    ProviderKind = "cluster"
)

// String is a utility function to return the string representation of a PodID.
func (podID PodID) String() string {
	return uuid.UUID(podID).String()
}

// MarshalJSON is a utility function to properly marshal a PodID into a proper
// JSON representation.
func (podID PodID) MarshalJSON() ([]byte, error) {
	u := uuid.UUID(podID)
	UUID, err := uuid.Parse(u.String())
	if err != nil {
		return nil, utils.MakeError("Received invalid UUID when marshaling")
	}

	bytes, err := json.Marshal(UUID.String())
	if err != nil {
		return nil, utils.MakeError("Error marshaling UUID")
	}

	return bytes, nil
}

// UnmarshalJSON is a utility function to properly unmarshal JSON into a type PodID.
func (podID *PodID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	UUID, err := uuid.Parse(s)
	if err != nil {
		return utils.MakeError("Error parsing UUID")
	}

	*podID = PodID(UUID)
	return nil
}
