package registry

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"toolgate/internal/domain"
)

type constraintKind int

const (
	constraintAny constraintKind = iota
	constraintExact
	constraintCaret
	constraintTilde
)

// constraint is a parsed version selector. The grammar is exact ("1.2.3"),
// caret ("^1.2.0": same major, at least the base) and tilde ("~1.2.0": same
// major.minor, at least the base). Empty means any version.
type constraint struct {
	kind constraintKind
	base string
}

func parseConstraint(raw string) (constraint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return constraint{kind: constraintAny}, nil
	}
	kind := constraintExact
	switch {
	case strings.HasPrefix(trimmed, "^"):
		kind = constraintCaret
		trimmed = strings.TrimSpace(trimmed[1:])
	case strings.HasPrefix(trimmed, "~"):
		kind = constraintTilde
		trimmed = strings.TrimSpace(trimmed[1:])
	}
	base := normalizeVersion(trimmed)
	if !semver.IsValid(base) {
		return constraint{}, fmt.Errorf("%w: %q", domain.ErrInvalidConstraint, raw)
	}
	return constraint{kind: kind, base: base}, nil
}

func (c constraint) matches(version string) bool {
	normalized := normalizeVersion(version)
	if !semver.IsValid(normalized) {
		return false
	}
	switch c.kind {
	case constraintAny:
		return true
	case constraintExact:
		return semver.Compare(normalized, c.base) == 0
	case constraintCaret:
		return semver.Major(normalized) == semver.Major(c.base) &&
			semver.Compare(normalized, c.base) >= 0
	case constraintTilde:
		return semver.MajorMinor(normalized) == semver.MajorMinor(c.base) &&
			semver.Compare(normalized, c.base) >= 0
	default:
		return false
	}
}

func normalizeVersion(version string) string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "v") {
		return "v" + trimmed
	}
	return trimmed
}

func compareVersions(a, b string) int {
	return semver.Compare(normalizeVersion(a), normalizeVersion(b))
}
