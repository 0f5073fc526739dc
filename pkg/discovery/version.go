package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeVersion converts a solver version to "major.minor".
//
// Studies written before 9.0 store the version as a three digit integer
// ("880" means 8.8); newer ones use a dotted form ("9.2").
func NormalizeVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("empty version")
	}

	if strings.Contains(v, ".") {
		parts := strings.Split(v, ".")
		major, err := strconv.Atoi(parts[0])
		if err != nil || major < 0 {
			return "", fmt.Errorf("invalid version %q", v)
		}
		minor := 0
		if len(parts) > 1 && parts[1] != "" {
			minor, err = strconv.Atoi(parts[1])
			if err != nil || minor < 0 {
				return "", fmt.Errorf("invalid version %q", v)
			}
		}
		return fmt.Sprintf("%d.%d", major, minor), nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 100 || n > 999 {
		return "", fmt.Errorf("invalid version %q", v)
	}
	return fmt.Sprintf("%d.%d", n/100, (n%100)/10), nil
}

// VersionSet is a set of normalized versions.
type VersionSet map[string]struct{}

// NewVersionSet normalizes versions; invalid entries are reported.
func NewVersionSet(versions []string) (VersionSet, error) {
	set := make(VersionSet, len(versions))
	for _, v := range versions {
		n, err := NormalizeVersion(v)
		if err != nil {
			return nil, fmt.Errorf("supported versions: %w", err)
		}
		set[n] = struct{}{}
	}
	return set, nil
}

// Contains reports whether the normalized form of v is in the set.
func (s VersionSet) Contains(v string) bool {
	n, err := NormalizeVersion(v)
	if err != nil {
		return false
	}
	_, ok := s[n]
	return ok
}
