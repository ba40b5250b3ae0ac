package subscriptions // import "github.com/hackrange/hackrange/backend/services/subscriptions"

import (
	"os"

	"github.com/hackrange/hackrange/backend/services/metadata"
	"github.com/hackrange/hackrange/backend/services/utils"
)

// Database connection strings

const localHasuraURL = "http://localhost:8080/v1/graphql"

// getHasuraParams obtains and returns the parameters necessary to initialize
// the client. Outside of local development they come from the environment the
// deployment tooling injects.
func getHasuraParams() (HasuraParams, error) {
	if metadata.IsLocalEnv() {
		return HasuraParams{
			URL:       localHasuraURL,
			AccessKey: "hasura",
		}, nil
	}

	url := os.Getenv("HASURA_GRAPHQL_URL")
	if url == "" {
		return HasuraParams{}, utils.MakeError("couldn't get Hasura connection URL: HASURA_GRAPHQL_URL is not set")
	}

	accessKey := os.Getenv("HASURA_GRAPHQL_ACCESS_KEY")
	if accessKey == "" {
		return HasuraParams{}, utils.MakeError("couldn't get Hasura access key: HASURA_GRAPHQL_ACCESS_KEY is not set")
	}

	params := HasuraParams{
		URL:       url,
		AccessKey: accessKey,
	}

	return params, nil
}
