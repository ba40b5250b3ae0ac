package auth

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

func TestScopesUnmarshal(t *testing.T) {
	var tests = []struct {
		name, raw string
		expected  Scopes
	}{
		{"Multiple scopes", `"sessions:write sessions:read"`, Scopes{"sessions:write", "sessions:read"}},
		{"Single scope", `"sessions:read"`, Scopes{"sessions:read"}},
		{"Empty scope", `""`, Scopes{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scopes Scopes
			if err := json.Unmarshal([]byte(tt.raw), &scopes); err != nil {
				t.Errorf("did not expect error, got: %s", err)
			}

			if !reflect.DeepEqual(scopes, tt.expected) {
				t.Errorf("expected scopes to be %v, got %v", tt.expected, scopes)
			}
		})
	}
}

func TestScopesUnmarshalInvalid(t *testing.T) {
	var scopes Scopes
	if err := json.Unmarshal([]byte(`["not", "a", "string"]`), &scopes); err == nil {
		t.Errorf("expected error unmarshalling a non-string scope claim")
	}
}

func TestVerify(t *testing.T) {
	var tests = []struct {
		name   string
		claims *Claims
		err    bool
	}{
		{"Valid claims", &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Audience: jwt.ClaimStrings{config.Aud},
				Issuer:   config.Iss,
			},
			Role: "USER",
		}, false},
		{"Wrong audience", &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Audience: jwt.ClaimStrings{"https://api.example.com"},
				Issuer:   config.Iss,
			},
			Role: "USER",
		}, true},
		{"Wrong issuer", &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Audience: jwt.ClaimStrings{config.Aud},
				Issuer:   "https://auth.example.com/",
			},
			Role: "USER",
		}, true},
		{"Missing role", &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Audience: jwt.ClaimStrings{config.Aud},
				Issuer:   config.Iss,
			},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.claims)
			if err != nil && !tt.err {
				t.Errorf("did not expect error, got: %s", err)
			}

			if err == nil && tt.err {
				t.Errorf("expected claims to fail verification")
			}
		})
	}
}

func TestUserID(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-f9a55d2e",
		},
	}

	if got := claims.UserID(); string(got) != "user-f9a55d2e" {
		t.Errorf("expected user ID to be user-f9a55d2e, got %s", got)
	}
}
