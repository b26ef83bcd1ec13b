package version

import "runtime/debug"

// Version is set at build time with -ldflags "-X dirindex/internal/version.Version=...".
var Version = "dev"

func String() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
