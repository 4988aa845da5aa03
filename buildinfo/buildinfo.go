// Package buildinfo contains application metadata that can be set at build time.
//
// For release builds, use ldflags to set the version:
//
//	go build -ldflags "-X github.com/tudihq/deras-agent/buildinfo.Version=1.0.0"
//
// Or set multiple values:
//
//	go build -ldflags "\
//	  -X github.com/tudihq/deras-agent/buildinfo.Version=1.0.0 \
//	  -X github.com/tudihq/deras-agent/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/tudihq/deras-agent/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import "fmt"

// Application metadata - can be overridden at build time via ldflags
var (
	// Name is the technical application name
	Name = "deras-agent"

	// DirName is the name of the data directory within user config paths
	DirName = "deras-agent"

	// DisplayName is the user-friendly name (used for mDNS and titles)
	DisplayName = "DERAS Bridge"

	// Description is a short description of the application
	Description = "DERAS RFID reader bridge with WebSocket broadcasting"

	// Version is the semantic version (set via ldflags for releases)
	Version = "dev"

	// Commit is the git commit hash (set via ldflags)
	Commit = ""

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = ""
)

// FullVersion returns the version string with optional commit info.
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns a user agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
