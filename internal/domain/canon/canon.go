// Package canon produces deterministic canonical bytes for the
// (partitions, event) pair used as the dedupe-equality witness throughout
// the sync engine and as the version key for materialized views.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Form is the canonical byte representation of a (partitions, event) pair.
// Two inputs produce an equal Form iff their JSON-semantic structure is
// equal: partitions are deduplicated and sorted, objects are recursively
// key-sorted, numbers are re-formatted (integers in decimal, other values
// via encoding/json's float64 formatting), and no
// insignificant whitespace is emitted.
type Form []byte

// Equal reports whether two canonical forms represent the same input.
func (f Form) Equal(other Form) bool {
	return bytes.Equal(f, other)
}

func (f Form) String() string { return string(f) }

// Of canonicalizes partitions and an opaque JSON event payload together.
// partitions is normalized (deduplicated, sorted) before encoding; event
// must be valid JSON (or nil, encoded as JSON null).
func Of(partitions []string, event json.RawMessage) (Form, error) {
	norm := normalizePartitions(partitions)

	var raw any
	if len(event) != 0 {
		dec := json.NewDecoder(bytes.NewReader(event))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("canon: event is not valid json: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"partitions":`)
	writeSortedPartitions(&buf, norm)
	buf.WriteString(`,"event":`)
	if err := writeCanonicalValue(&buf, raw); err != nil {
		return nil, err
	}
	buf.WriteByte('}')

	return Form(buf.Bytes()), nil
}

func normalizePartitions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func writeSortedPartitions(buf *bytes.Buffer, parts []string) {
	buf.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, _ := json.Marshal(p)
		buf.Write(b)
	}
	buf.WriteByte(']')
}

// writeCanonicalValue recursively serializes a decoded JSON value with
// object keys sorted, matching encoding/json's number/string escaping so
// that semantically-equal documents produce byte-identical output
// regardless of original key order.
func writeCanonicalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonicalValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		// Re-format the literal so equal values spelled differently
		// (1.5 vs 1.50, 1 vs 1.0) produce the same bytes.
		if i, err := val.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		f, err := val.Float64()
		if err != nil {
			return err
		}
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	default:
		// bool, string — encoding/json already produces stable, minimal
		// output for these scalar kinds.
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
