// Package version reports the build version.
package version

import (
	"runtime/debug"
)

// Version is overridden at build time via -ldflags "-X roamgo/pkg/version.Version=...".
var Version = "v0.1.0"

// Revision returns the VCS revision the binary was built from, shortened
// to 12 characters, with "+dirty" when the tree had local changes. It is
// empty when the build carries no VCS information.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return revision(info.Settings)
}

func revision(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
}
