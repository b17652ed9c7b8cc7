package ospackage

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatEVRA renders epoch:version-release.arch with "*" for absent parts.
func FormatEVRA(epoch *int, version, release, arch string) string {
	e := "*"
	if epoch != nil {
		e = strconv.Itoa(*epoch)
	}
	return fmt.Sprintf("%s:%s-%s.%s", e, orStar(version), orStar(release), orStar(arch))
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// ParseEpoch parses a declared epoch. Empty input means no epoch.
func ParseEpoch(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "(none)" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid epoch %q: %w", s, err)
	}
	return &v, nil
}

// EpochEqual compares two optional epochs. Absent only equals absent.
func EpochEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// InstanceMatches reports whether the installed record satisfies the desired
// instance. Legacy instances compare version and release; all others also
// compare epoch and arch.
func InstanceMatches(want *DesiredInstance, have PackageInstance) bool {
	if want.Legacy {
		return want.Version == have.Version && want.Release == have.Release
	}
	return EpochEqual(want.Epoch, have.Epoch) &&
		want.Version == have.Version &&
		want.Release == have.Release &&
		want.Arch == have.Arch
}

// ShortKeyID returns the trailing eight characters of a signing key id.
func ShortKeyID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
