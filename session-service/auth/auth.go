// Package auth provides the verification logic for the access tokens that the
// dashboard frontend attaches to its requests. Tokens are RS256 JWTs signed by
// our identity provider, so we fetch the provider's JWKS and refresh it in the
// background.
package auth

import (
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/hackrange/hackrange/backend/services/metadata"
	rangelogger "github.com/hackrange/hackrange/backend/services/rangelogger"
	"github.com/hackrange/hackrange/backend/services/utils"
)

var config authConfig = getAuthConfig()

var jwks *keyfunc.JWKS

func init() {
	// Don't try to fetch the signing keys when running locally, token
	// validation is skipped entirely in that environment.
	if metadata.IsLocalEnv() {
		return
	}

	var err error
	jwks, err = keyfunc.Get(config.getJwksURL(), keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			rangelogger.Errorf("error refreshing JWKS: %s", err)
		},
	})
	if err != nil {
		rangelogger.Panicf(nil, "error fetching JWKS from %s: %s", config.getJwksURL(), err)
	}
}

// ParseToken parses the raw access token and validates its signature against
// the identity provider's public keys. It returns the parsed claims on
// success.
func ParseToken(accessToken string) (*Claims, error) {
	claims := new(Claims)

	_, err := jwt.ParseWithClaims(accessToken, claims, jwks.Keyfunc)
	if err != nil {
		return nil, utils.MakeError("error parsing access token: %s", err)
	}

	return claims, nil
}

// Verify performs the validations on the claims that aren't covered by
// signature verification: the token must be meant for us and must have been
// issued by our identity provider.
func Verify(claims *Claims) error {
	if !claims.VerifyAudience(config.Aud, true) {
		return utils.MakeError("token audience %v does not include %s", claims.Audience, config.Aud)
	}

	if !claims.VerifyIssuer(config.Iss, true) {
		return utils.MakeError("token issuer %s does not match %s", claims.Issuer, config.Iss)
	}

	if claims.Role == "" {
		return utils.MakeError("token is missing the role claim")
	}

	return nil
}
