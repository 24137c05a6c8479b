package version

var (
	Version = "0.3.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the version string, set at build time via ldflags.
func Resolve() string {
	if Version == "" {
		return "0.0.0"
	}
	return Version
}
