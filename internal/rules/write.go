package rules

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackszb/sukka-surge/internal/safefile"
)

// Encode renders f as indented JSON. Non-ASCII and HTML-significant
// characters are written literally. Encoding the same Final twice yields
// identical bytes.
func Encode(f Final) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode rule set: %w", err)
	}
	return buf.Bytes(), nil
}

// Written describes a serialized rule document on disk.
type Written struct {
	Path   string
	Bytes  int64
	SHA256 string
}

// WriteFinal encodes f and writes it to path atomically.
func WriteFinal(path string, f Final) (Written, error) {
	b, err := Encode(f)
	if err != nil {
		return Written{}, err
	}
	if err := safefile.WriteBytes(path, b); err != nil {
		return Written{}, fmt.Errorf("write %s: %w", path, err)
	}
	sum := sha256.Sum256(b)
	return Written{
		Path:   path,
		Bytes:  int64(len(b)),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}
