// Package version carries the syncd build identity.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/srsync/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/srsync/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/srsync/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/syncd
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Build is the identity reported by /health and the startup log.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Current returns the build identity of the running binary.
func Current() Build {
	return Build{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats the identity as "version (commit) built time".
func (b Build) String() string {
	return b.Version + " (" + b.Commit + ") built " + b.BuildTime
}

// ClientName is the connection name syncd announces to brokers.
func ClientName(instanceID string) string {
	return "syncd/" + Version + "/" + instanceID
}
