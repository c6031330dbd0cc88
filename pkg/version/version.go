// Package version reports the release identity of the running binary.
//
// Release builds stamp the identity through the linker:
//
//	go build -ldflags "-X github.com/shuttle-bridge/shuttle/node/pkg/version.version=v1.2.3"
//
// Builds without the flag report "development".
package version

// Overridden at link time on release builds.
var version = "development"

// Version returns the stamped release identity.
func Version() string {
	if version == "" {
		panic("binary compiled with empty version")
	}
	return version
}
