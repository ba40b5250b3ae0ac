package auth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/hackrange/hackrange/backend/services/types"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Claims are the JWT claims attached to the access tokens issued for the
// dashboard. The role and organization are namespaced custom claims added by
// the identity provider on login.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes are the actions the token allows. They arrive as a single
	// space-separated string, hence the custom type.
	Scopes Scopes `json:"scope"`

	// Role is the range role of the user this token was issued for.
	Role types.Role `json:"https://api.hackrange.dev/role"`

	// OrgID is the organization the user belongs to.
	OrgID types.OrgID `json:"https://api.hackrange.dev/org_id"`
}

// UserID returns the subject of the token, which our identity provider sets
// to the user's unique identifier.
func (c *Claims) UserID() types.UserID {
	return types.UserID(c.Subject)
}

// Scopes is a list of scope strings.
type Scopes []string

// UnmarshalJSON unmarshals a space-separated string of scopes into a Scopes
// value.
func (s *Scopes) UnmarshalJSON(data []byte) error {
	var scopes string
	if err := json.Unmarshal(data, &scopes); err != nil {
		return utils.MakeError("error unmarshalling scope claim: %s", err)
	}

	*s = strings.Fields(scopes)

	return nil
}

// Contains reports whether the scope list includes the given scope.
func (s Scopes) Contains(scope string) bool {
	for _, candidate := range s {
		if candidate == scope {
			return true
		}
	}
	return false
}
