// Package version provides build information for the carla-go tool itself.
// It is unrelated to the binding version exposed by package carla.
package version

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X github.com/AaronLay10/carla-go/internal/version.Version=x.y.z -X github.com/AaronLay10/carla-go/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns the tool version with its commit.
func String() string {
	return Version + " (commit " + Commit + ")"
}
