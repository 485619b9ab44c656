// Package rules turns upstream rule documents into a single merged rule set.
//
// A source document is either a JSON array of rule objects or an object whose
// "rules" field holds that array. Each rule object maps a category name
// (domain, domain_suffix, ip_cidr, ...) to a string or a list of strings.
// The Merger unions every category across sources; Finalize migrates
// domain_keyword entries and produces the sorted, versioned output document.
package rules

import (
	"bytes"
	"encoding/json"
)

// ValueKind tags the shape a category value had in the source JSON.
type ValueKind int

const (
	// KindEmpty is a value that contributes nothing: null, "", [], false,
	// 0, {} or any shape that cannot carry rule strings.
	KindEmpty ValueKind = iota
	KindScalar
	KindSequence
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	default:
		return "empty"
	}
}

// Value is one category value of a rule object.
type Value struct {
	Kind     ValueKind
	Scalar   string
	Sequence []string
}

// Scalar returns a scalar Value, or an empty one for "".
func Scalar(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindScalar, Scalar: s}
}

// Sequence returns a sequence Value, or an empty one for no elements.
func Sequence(items ...string) Value {
	if len(items) == 0 {
		return Value{}
	}
	return Value{Kind: KindSequence, Sequence: items}
}

// Values normalizes v into a uniform list. Empty values yield nil.
func (v Value) Values() []string {
	switch v.Kind {
	case KindScalar:
		return []string{v.Scalar}
	case KindSequence:
		return v.Sequence
	default:
		return nil
	}
}

// Len is the number of entries v contributes.
func (v Value) Len() int { return len(v.Values()) }

// UnmarshalJSON decodes a string or an array. Non-string array elements are
// dropped; an array left with no strings, and every other JSON type, decodes
// as KindEmpty. Empty strings inside a non-empty array are kept.
func (v *Value) UnmarshalJSON(b []byte) error {
	*v = Value{}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Scalar(s)

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, el := range raw {
			el = bytes.TrimSpace(el)
			if len(el) == 0 || el[0] != '"' {
				continue
			}
			var s string
			if err := json.Unmarshal(el, &s); err != nil {
				return err
			}
			items = append(items, s)
		}
		*v = Sequence(items...)
	}
	return nil
}

// MarshalJSON writes scalars as strings and sequences as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindScalar:
		return json.Marshal(v.Scalar)
	case KindSequence:
		return json.Marshal(v.Sequence)
	default:
		return []byte("null"), nil
	}
}

// Object is one rule object: category name to value.
type Object map[string]Value
