// Package ident builds and parses the colon-delimited composite identifiers
// that name resources in the org:project:branch:element hierarchy.
package ident

import (
	"strings"

	"github.com/trovehq/trove/pkg/errs"
)

// Delimiter separates the components of a composite identifier. It is
// reserved and may not appear inside any individual component.
const Delimiter = ":"

// Compose joins the given parts into a composite identifier. Parts are
// order-significant: org first, then project, branch, element. Fails with a
// DataFormatError if any part is empty or contains the delimiter.
func Compose(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", errs.NewDataFormat("identifier requires at least one component")
	}
	for _, p := range parts {
		if p == "" {
			return "", errs.NewDataFormat("identifier component must not be empty")
		}
		if strings.Contains(p, Delimiter) {
			return "", errs.NewDataFormat("identifier component %q contains reserved delimiter %q", p, Delimiter)
		}
	}
	return strings.Join(parts, Delimiter), nil
}

// Decompose splits a composite identifier into its components.
func Decompose(id string) []string {
	return strings.Split(id, Delimiter)
}

// OrgID returns the organization component of any composite identifier.
func OrgID(id string) string {
	return Decompose(id)[0]
}

// ProjectID returns the org:project prefix of a composite identifier, or ""
// if the identifier has no project component.
func ProjectID(id string) string {
	parts := Decompose(id)
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[:2], Delimiter)
}

// BranchID returns the org:project:branch prefix of a composite identifier,
// or "" if the identifier has no branch component.
func BranchID(id string) string {
	parts := Decompose(id)
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[:3], Delimiter)
}

// Leaf returns the last component of a composite identifier.
func Leaf(id string) string {
	parts := Decompose(id)
	return parts[len(parts)-1]
}
