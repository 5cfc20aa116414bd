package version

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// Semantic version components.
const (
	Major = 0
	Minor = 3
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// String returns the version as vMAJOR.MINOR.PATCH[-LABEL].
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Protocols lists the wire versions the handshake implements, oldest first.
func Protocols() []string {
	versions := []uint16{
		constants.VersionTLS10, constants.VersionTLS11, constants.VersionTLS12,
		constants.VersionDTLS10, constants.VersionDTLS12,
	}
	names := make([]string, len(versions))
	for i, v := range versions {
		names[i] = constants.VersionName(v)
	}
	return names
}

// Full returns the project name, version, supported protocols and, when
// available, the VCS revision the binary was built from.
func Full() string {
	s := fmt.Sprintf("quantum-tls %s (%s)", String(), strings.Join(Protocols(), ", "))
	if rev := revision(); rev != "" {
		s += " rev " + rev
	}
	return s
}

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return ""
}
