package version

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfoDefaults(t *testing.T) {
	info := GetBuildInfo()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.True(t, info.BuildTime.IsZero(), "unparseable build date leaves BuildTime unset")
}

func TestGetBuildInfoParsesBuildDate(t *testing.T) {
	orig := BuildDate
	defer func() { BuildDate = orig }()
	BuildDate = "2026-02-03T04:05:06Z"

	info := GetBuildInfo()
	assert.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), info.BuildTime.UTC())
}

func TestBuildInfoString(t *testing.T) {
	s := BuildInfo{Version: "v1.0.0", GitCommit: "abc123", BuildDate: "today", GoVersion: "go1.25.0", Platform: "linux/amd64"}.String()
	assert.Equal(t, "email-dispatcher v1.0.0 (commit abc123, built today, go1.25.0 linux/amd64)", s)
}
