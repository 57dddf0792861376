package protocol

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// canonical returns v with the "v" prefix semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidVersion reports whether v is a semantic version, with or without a
// leading "v".
func ValidVersion(v string) bool {
	return semver.IsValid(canonical(v))
}

// CompareVersions returns -1, 0 or +1. An invalid version sorts before
// every valid one.
func CompareVersions(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// IsLegacy reports whether a sender at version v needs translation before
// dispatch against floor. A missing or invalid version is treated as legacy.
func IsLegacy(v, floor string) bool {
	if !ValidVersion(v) {
		return true
	}
	if !ValidVersion(floor) {
		return false
	}
	return CompareVersions(v, floor) < 0
}

// Satisfies reports whether v satisfies constraint, a space-separated list
// of comparisons such as ">=0.10.0 <0.12.0". A bare version means equality.
// An empty constraint is always satisfied.
func Satisfies(v, constraint string) (bool, error) {
	if !ValidVersion(v) {
		return false, fmt.Errorf("invalid version %q", v)
	}
	for _, term := range strings.Fields(constraint) {
		op, want := splitOperator(term)
		if !ValidVersion(want) {
			return false, fmt.Errorf("invalid constraint %q", term)
		}
		cmp := CompareVersions(v, want)
		var ok bool
		switch op {
		case ">=":
			ok = cmp >= 0
		case ">":
			ok = cmp > 0
		case "<=":
			ok = cmp <= 0
		case "<":
			ok = cmp < 0
		case "^":
			ok = cmp >= 0 && caretCompatible(canonical(v), canonical(want))
		case "~":
			ok = cmp >= 0 && semver.MajorMinor(canonical(v)) == semver.MajorMinor(canonical(want))
		default:
			ok = cmp == 0
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// caretCompatible follows npm: the leftmost non-zero component of want is
// fixed, so ^1.2.3 allows <2.0.0, ^0.10.0 allows <0.11.0 and ^0.0.3 only
// 0.0.3 itself.
func caretCompatible(v, want string) bool {
	switch {
	case semver.Major(want) != "v0":
		return semver.Major(v) == semver.Major(want)
	case semver.MajorMinor(want) != "v0.0":
		return semver.MajorMinor(v) == semver.MajorMinor(want)
	default:
		return release(v) == release(want)
	}
}

// release drops prerelease and build suffixes.
func release(v string) string {
	return strings.TrimSuffix(semver.Canonical(v), semver.Prerelease(v))
}

func splitOperator(term string) (string, string) {
	for _, op := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(term, op) {
			return op, term[len(op):]
		}
	}
	return "=", term
}
