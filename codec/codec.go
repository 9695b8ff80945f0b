// Package codec centralizes metadata encoding for build artifacts.
//
// Index metadata blocks and ledger records are JSON documents. The codec
// is selectable so heavy build manifests can opt into goccy/go-json
// without changing the wire format: every built-in codec reads the bytes
// the others write.
package codec

import "fmt"

// Codec encodes and decodes metadata values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Build files and ledger records refer to codecs by name so that a build
// resumed on another machine picks the same implementation.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
