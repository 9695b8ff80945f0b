package transform

import (
	"fmt"
	"strings"

	"github.com/quiverdb/quiver/errdefs"
)

// Compression selects the codec wrapped around a vector file's record
// stream. The file header stays uncompressed so readers can sniff it.
type Compression uint8

const (
	// CompressionNone stores records raw.
	CompressionNone Compression = 0
	// CompressionLZ4 wraps the record stream in an lz4 frame (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd wraps the record stream in a zstd frame (smaller).
	CompressionZstd Compression = 2
)

// String returns the canonical wire name of the compression codec.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression converts a compression wire name. The empty string
// means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errdefs.Configf("unknown compression %q", s)
	}
}
