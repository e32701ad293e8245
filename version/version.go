// Package version reports build information for the strata binary and the
// definitions schema range it reads.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// DefinitionsSchema is the range of *.strata.toml schema_version values
// this build reads.
const DefinitionsSchema = "^1.0"

// Info contains version and build information
type Info struct {
	CommitHash        string `json:"commit_hash"`
	BuildTime         string `json:"build_time"`
	Version           string `json:"version"`
	DefinitionsSchema string `json:"definitions_schema"`
	GoVersion         string `json:"go_version"`
	Platform          string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash:        CommitHash,
		BuildTime:         BuildTime,
		Version:           Version,
		DefinitionsSchema: DefinitionsSchema,
		GoVersion:         runtime.Version(),
		Platform:          fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Release reports whether Version is a tagged semantic version without a
// prerelease suffix.
func (i Info) Release() bool {
	v, err := semver.NewVersion(i.Version)
	return err == nil && v.Prerelease() == ""
}

// String returns a human-readable version string
func (i Info) String() string {
	if _, err := semver.NewVersion(i.Version); err == nil {
		return fmt.Sprintf("strata %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
	}
	return fmt.Sprintf("strata dev (commit %s, built %s)", i.Short(), i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
