// Package version carries the build identity stamped in by the linker:
//
//	go build -ldflags "-X github.com/MeKo-Tech/trustroute/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date. A binary built without
// ldflags reports the VCS revision recorded by the go tool, if any.
func Info() (string, string, string) {
	commit := GitCommit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return Version, commit, BuildDate
}

// String formats the build identity for logs and the health endpoint.
func String() string {
	v, c, d := Info()
	return fmt.Sprintf("%s (commit %s, built %s)", v, c, d)
}
