package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeID returns the canonical form of a caller-assigned node id.
// Ids are NFC normalized and trimmed so that visually identical ids coming
// from different front ends address the same node.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}
