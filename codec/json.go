package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// It is the most portable option: no dependencies beyond the standard
// library, stable output for the map- and struct-shaped records the
// pipeline persists.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
//
// Artifacts carry plain JSON either way; Default only decides which
// implementation produces and parses the bytes.
var Default Codec = GoJSON{}
