package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build identity the way startup logging and the
// health endpoint report it.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
