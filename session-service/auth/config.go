package auth

import (
	"os"

	"github.com/hackrange/hackrange/backend/services/utils"
)

// authConfig holds the expected audience and issuer of the access tokens we
// receive. These match the API configuration of our identity provider tenant.
type authConfig struct {
	Aud string
	Iss string
}

func getAuthConfig() authConfig {
	config := authConfig{
		Aud: "https://api.hackrange.dev",
		Iss: "https://auth.hackrange.dev/",
	}

	if aud := os.Getenv("JWT_AUDIENCE"); aud != "" {
		config.Aud = aud
	}

	if iss := os.Getenv("JWT_ISSUER"); iss != "" {
		config.Iss = iss
	}

	return config
}

// getJwksURL returns the well-known JWKS endpoint of the token issuer.
func (c authConfig) getJwksURL() string {
	return utils.Sprintf("%s.well-known/jwks.json", c.Iss)
}
