package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"dev build", Info{Version: "dev", CommitHash: "dev", BuildTime: "unknown"}, "strata dev (commit dev, built unknown)"},
		{"tagged", Info{Version: "v1.2.0", CommitHash: "0123456789abcdef", BuildTime: "2026-10-01"}, "strata v1.2.0 (commit 0123456, built 2026-10-01)"},
		{"untagged describe output", Info{Version: "main-dirty", CommitHash: "abc", BuildTime: "now"}, "strata dev (commit abc, built now)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestRelease(t *testing.T) {
	assert.True(t, Info{Version: "1.4.2"}.Release())
	assert.False(t, Info{Version: "1.5.0-rc.1"}.Release())
	assert.False(t, Info{Version: "dev"}.Release())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, DefinitionsSchema, info.DefinitionsSchema)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
