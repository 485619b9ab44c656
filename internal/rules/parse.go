package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// RulesField is the envelope field that holds the rule array when a document
// root is an object.
const RulesField = "rules"

// Document is a parsed source document.
type Document struct {
	Rules []Object

	// Skipped counts array entries that were not JSON objects.
	Skipped int
}

// ParseDocument decodes one source document from r.
//
// Streaming behavior:
//   - A root array is read element by element.
//   - A root object is scanned for the "rules" field; other fields are skipped.
//     A missing "rules" field yields an empty document.
//   - Non-object array entries are counted in Skipped and otherwise ignored.
//
// Input is UTF-8; a leading byte order mark is accepted. Invalid UTF-8 is an
// error wrapping ErrInvalidUTF8 and is never replaced with U+FFFD.
//
// Errors:
//   - invalid JSON anywhere in the document
//   - a root that is neither an array nor an object
//   - a "rules" field that is not an array
//   - trailing data after the root value
//   - invalid UTF-8
func ParseDocument(r io.Reader) (Document, error) {
	dec := json.NewDecoder(transform.NewReader(r, transform.Chain(
		strictUTF8{},
		unicode.BOMOverride(unicode.UTF8.NewDecoder()),
	)))

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("json: empty document")
		}
		return Document{}, fmt.Errorf("json: read first token: %w", err)
	}

	var doc Document
	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if err := streamRuleArray(dec, &doc); err != nil {
				return Document{}, err
			}
		case '{':
			if err := streamEnvelope(dec, &doc); err != nil {
				return Document{}, err
			}
		default:
			return Document{}, fmt.Errorf("json: unexpected root delimiter %q", d)
		}
	default:
		return Document{}, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return Document{}, fmt.Errorf("json: trailing data: %w", err)
		}
		return Document{}, fmt.Errorf("json: trailing data after root value")
	}
	return doc, nil
}

// ErrInvalidUTF8 reports a source that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8")

// strictUTF8 passes valid UTF-8 through unchanged and fails on the first
// invalid sequence.
type strictUTF8 struct{ transform.NopResetter }

func (strictUTF8) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		size := 1
		if c := src[nSrc]; c >= utf8.RuneSelf {
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			r, n := utf8.DecodeRune(src[nSrc:])
			if r == utf8.RuneError && n == 1 {
				return nDst, nSrc, fmt.Errorf("%w: byte 0x%02x", ErrInvalidUTF8, c)
			}
			size = n
		}
		if nDst+size > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], src[nSrc:nSrc+size])
		nSrc += size
	}
	return nDst, nSrc, nil
}

// streamRuleArray consumes array elements up to and including the closing ']'.
// The opening '[' must already have been read.
func streamRuleArray(dec *json.Decoder, doc *Document) error {
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: rule %d: %w", len(doc.Rules)+doc.Skipped, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			doc.Skipped++
			continue
		}
		var obj Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("json: rule %d: %w", len(doc.Rules)+doc.Skipped, err)
		}
		doc.Rules = append(doc.Rules, obj)
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read array end: %w", err)
	}
	if end != json.Delim(']') {
		return fmt.Errorf("json: expected array end ']', got %v", end)
	}
	return nil
}

// streamEnvelope consumes a root object up to and including the closing '}'.
func streamEnvelope(dec *json.Decoder, doc *Document) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("json: expected object key, got %v", keyTok)
		}

		if key != RulesField {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("json: field %q: %w", key, err)
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: field %q: %w", key, err)
		}
		if tok != json.Delim('[') {
			return fmt.Errorf("json: field %q must be an array, got %v", key, tok)
		}
		// A repeated field replaces the earlier one.
		*doc = Document{}
		if err := streamRuleArray(dec, doc); err != nil {
			return err
		}
	}

	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return fmt.Errorf("json: expected object end '}', got %v", end)
	}
	return nil
}
