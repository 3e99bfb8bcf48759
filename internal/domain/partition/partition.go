// Package partition validates and normalizes the partition sets attached
// to events and session scopes.
package partition

import (
	"sort"

	"github.com/webitel/sync-engine/internal/wire"
)

// Normalize validates raw and returns a sorted, duplicate-free copy.
// Duplicates are rejected rather than silently coalesced because the
// normalized form is observable in sync_response.payload.partitions.
func Normalize(raw []string) ([]string, error) {
	if raw == nil {
		return nil, wire.NewValidationError("partitions", "partitions must be a non-empty array")
	}
	if len(raw) == 0 {
		return nil, wire.NewValidationError("partitions", "partitions must be a non-empty array")
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			return nil, wire.NewValidationError("partitions", "partition entries must be non-empty strings")
		}
		if _, dup := seen[p]; dup {
			return nil, wire.NewValidationError("partitions", "duplicate partition entries are not allowed")
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	sort.Strings(out)
	return out, nil
}

// Intersects reports whether two normalized partition sets share any
// element. Both inputs are assumed sorted (the output of Normalize).
func Intersects(a, b []string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}
