// Package carla exposes version metadata for the CARLA client bindings.
//
// The version string can be overridden at run time through the
// LIBCARLA_VERSION environment variable. The numeric components are fixed at
// build time and are not derived from the string.
package carla

import (
	"os"
	"sync"
)

// EnvVersion is the environment variable that overrides the version string.
const EnvVersion = "LIBCARLA_VERSION"

// DefaultVersion is used when EnvVersion is unset.
const DefaultVersion = "0.9.16"

// Version components of the bindings.
const (
	VersionMajor = 0
	VersionMinor = 9
	VersionPatch = 16
)

// LookupFunc reads a named configuration value. It reports false when the
// value is unset. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// exports lists the public version names, in declaration order.
var exports = [...]string{
	"Version",
	"VersionMajor",
	"VersionMinor",
	"VersionPatch",
}

// ResolveVersionString returns the value of EnvVersion as reported by lookup,
// or DefaultVersion when it is unset. A value that is set but empty is
// returned as is.
func ResolveVersionString(lookup LookupFunc) string {
	if lookup == nil {
		return DefaultVersion
	}
	if v, ok := lookup(EnvVersion); ok {
		return v
	}
	return DefaultVersion
}

var processVersion = sync.OnceValue(func() string {
	return ResolveVersionString(os.LookupEnv)
})

// Version returns the version string of the bindings. The environment is read
// once, on first call; later changes to it are not observed.
func Version() string {
	return processVersion()
}

// Components returns the major, minor and patch numbers.
func Components() (major, minor, patch int) {
	return VersionMajor, VersionMinor, VersionPatch
}

// Exports returns the names of the public version values.
func Exports() []string {
	out := make([]string, len(exports))
	copy(out, exports[:])
	return out
}
