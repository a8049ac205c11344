package hydrationcache

import (
	"runtime"

	"github.com/huykn/hydration-cache/types"
)

// Version is the current version of the hydration-cache library.
const Version = "v0.3.0"

// VersionInfo provides version information.
type VersionInfo struct {
	Version         string
	GoVersion       string
	SnapshotVersion int
}

// GetVersionInfo returns the current version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:         Version,
		GoVersion:       runtime.Version(),
		SnapshotVersion: types.SnapshotVersion,
	}
}
