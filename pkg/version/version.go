// Package version reports the server build version for MCP handshakes and
// startup logs.
package version

import "runtime/debug"

// version is overridable at build time: -ldflags "-X .../pkg/version.version=v1.2.3"
var version = "dev"

// Version prefers the module version stamped by the Go toolchain, falling
// back to the ldflags value for local builds.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Sum != "" {
		return info.Main.Version
	}
	return version
}
