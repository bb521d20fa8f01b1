package carla

import (
	"errors"
	"fmt"

	"github.com/blang/semver"
)

var (
	// ErrInvalidVersionFormat is returned by Info.Check when the version
	// string is not a semantic version.
	ErrInvalidVersionFormat = errors.New("invalid version format")

	// ErrVersionMismatch is returned by Info.Check when the version string
	// disagrees with the numeric components.
	ErrVersionMismatch = errors.New("version mismatch")
)

// Info is a resolved set of version metadata. It is a plain value and can be
// carried through configuration instead of consulting Version directly.
type Info struct {
	Version string `json:"version" yaml:"version"`
	Major   int    `json:"major" yaml:"major"`
	Minor   int    `json:"minor" yaml:"minor"`
	Patch   int    `json:"patch" yaml:"patch"`
}

// Resolve builds an Info from lookup. The components are always the
// constants of this package.
func Resolve(lookup LookupFunc) Info {
	return Info{
		Version: ResolveVersionString(lookup),
		Major:   VersionMajor,
		Minor:   VersionMinor,
		Patch:   VersionPatch,
	}
}

// Current returns the Info of this process.
func Current() Info {
	return Info{
		Version: Version(),
		Major:   VersionMajor,
		Minor:   VersionMinor,
		Patch:   VersionPatch,
	}
}

func (i Info) String() string {
	return i.Version
}

// Components returns the major, minor and patch numbers of i.
func (i Info) Components() (major, minor, patch int) {
	return i.Major, i.Minor, i.Patch
}

// Check reports whether the version string is a semantic version that agrees
// with the numeric components. It does not modify i.
func (i Info) Check() error {
	v, err := semver.Parse(i.Version)
	if err != nil {
		return &FormatError{Version: i.Version, Err: err}
	}
	if v.Major != uint64(i.Major) || v.Minor != uint64(i.Minor) || v.Patch != uint64(i.Patch) {
		return &MismatchError{
			Version: i.Version,
			Major:   i.Major,
			Minor:   i.Minor,
			Patch:   i.Patch,
		}
	}
	return nil
}

// FormatError indicates a version string that does not parse.
type FormatError struct {
	Version string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: %q: %v", ErrInvalidVersionFormat, e.Version, e.Err)
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrInvalidVersionFormat, e.Err}
}

// MismatchError indicates a version string whose numbers differ from the
// components.
type MismatchError struct {
	Version string
	Major   int
	Minor   int
	Patch   int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %q does not match %d.%d.%d",
		ErrVersionMismatch, e.Version, e.Major, e.Minor, e.Patch)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrVersionMismatch
}
