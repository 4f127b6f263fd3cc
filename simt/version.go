package simt

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// Version information for the reconvergence engines.
const (
	// Version is the current library version.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides information about the library build.
type Info struct {
	// Version is the library version string.
	Version string

	// ISAVersion is the newest kernel ISA version the assembler accepts.
	ISAVersion string

	// Engines lists the available reconvergence mechanisms.
	Engines []string
}

// GetInfo returns information about the library.
//
// Example:
//
//	info := simt.GetInfo()
//	fmt.Printf("simt %s (ISA %s)\n", info.Version, info.ISAVersion)
func GetInfo() Info {
	engines := make([]string, 0, len(Engines()))
	for _, t := range Engines() {
		engines = append(engines, t.String())
	}
	return Info{
		Version:    Version,
		ISAVersion: isa.SupportedVersion,
		Engines:    engines,
	}
}

// Compatible reports whether kernels written against ISA version v can be
// assembled. The leading "v" is optional.
func Compatible(v string) bool {
	_, err := isa.CheckVersion(v)
	return err == nil
}

// AtLeast reports whether this library is version v or newer.
func AtLeast(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare("v"+Version, v) >= 0
}
