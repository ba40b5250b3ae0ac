package metadata // import "github.com/hackrange/hackrange/backend/services/metadata"

// gitCommit is filled in by the linker at build time with the hash of the
// commit the binary was built from. It is used to tag Sentry releases and to
// match gateway deployments against the running service.
var gitCommit string

// GetGitCommit returns the git commit hash this service was built from, or
// "local" when the binary was built without the linker flag (i.e. go test or
// a plain go build during development).
func GetGitCommit() string {
	if gitCommit == "" {
		return "local"
	}
	return gitCommit
}
