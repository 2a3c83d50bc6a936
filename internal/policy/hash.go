package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// VersionRef pins an evaluation result to an exact policy version for
// audit; later versions must not change what a past record meant.
type VersionRef struct {
	ID      int64 `json:"id"`
	Version int   `json:"version"`
}

// ActiveSetHash returns a stable hash of the active policy set. The same
// set of (id, version) pairs always hashes the same, regardless of input
// order, so a decision record can prove which rule set produced it.
func ActiveSetHash(refs []VersionRef) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, fmt.Sprintf("%d:%d", r.ID, r.Version))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// VersionRefs extracts the (id, version) pairs of the given policies.
func VersionRefs(policies []Policy) []VersionRef {
	refs := make([]VersionRef, 0, len(policies))
	for _, p := range policies {
		refs = append(refs, VersionRef{ID: p.ID, Version: p.Version})
	}
	return refs
}
