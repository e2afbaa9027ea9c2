// Package version holds build metadata stamped in by the release build.
package version

// Set with -ldflags, for example:
//
//	-X 'github.com/janekbaraniewski/apiusage/internal/version.Version=v0.3.0'
//	-X 'github.com/janekbaraniewski/apiusage/internal/version.CommitHash=abc1234'
//	-X 'github.com/janekbaraniewski/apiusage/internal/version.BuildDate=2026-01-01'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String renders the line printed by `apiusage version`.
func String() string {
	return "apiusage " + Version + " (" + CommitHash + ", built " + BuildDate + ")"
}
