package version

import (
	"runtime/debug"
	"testing"
)

// These tests swap package globals and must not run in parallel.

func withBuild(t *testing.T, bi *debug.BuildInfo, ver, commit, built string) {
	t.Helper()
	oldRead, oldVer, oldCommit, oldBuilt := readBuildInfo, Version, Commit, BuildTime
	t.Cleanup(func() {
		readBuildInfo, Version, Commit, BuildTime = oldRead, oldVer, oldCommit, oldBuilt
	})
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	Version, Commit, BuildTime = ver, commit, built
}

func TestResolve(t *testing.T) {
	stamped := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	devel := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}

	cases := []struct {
		name   string
		bi     *debug.BuildInfo
		ldVer  string
		ldHash string
		want   string
	}{
		{name: "no metadata", want: "dev"},
		{name: "devel build", bi: devel, want: "dev"},
		{name: "vcs stamp", bi: stamped, want: "v0.3.1 (0123456789ab-dirty)"},
		{name: "ldflags win", bi: stamped, ldVer: "1.0.0", ldHash: "abc", want: "1.0.0 (abc-dirty)"},
		{name: "ldflags only", ldVer: "1.0.0", ldHash: "abc", want: "1.0.0 (abc)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withBuild(t, tc.bi, tc.ldVer, tc.ldHash, "")
			if got := String(); got != tc.want {
				t.Fatalf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveBuildTime(t *testing.T) {
	withBuild(t, &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.time", Value: "t1"}}}, "", "", "")
	if got := Resolve().BuildTime; got != "t1" {
		t.Fatalf("BuildTime = %q", got)
	}
	withBuild(t, &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.time", Value: "t1"}}}, "", "", "t0")
	if got := Resolve().BuildTime; got != "t0" {
		t.Fatalf("BuildTime = %q, want ldflags value", got)
	}
}
