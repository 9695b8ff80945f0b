package indexfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quiverdb/quiver/persistence"
)

const (
	// FormatMajor and FormatMinor version the artifact container. Readers
	// reject an unknown major; minor revisions are additive.
	FormatMajor uint16 = 0
	FormatMinor uint16 = 1

	trailerLen = 16
)

// trailerMagic identifies a sealed artifact. It is written last, so a
// file that does not end in it was never finished.
var trailerMagic = [4]byte{'Q', 'I', 'D', 'X'}

// ErrUnsealed reports an artifact with a missing or mangled trailer.
// Interrupted writes surface here: the trailer is the commit marker, and
// anything without one must be discarded and rebuilt.
var ErrUnsealed = errors.New("index artifact is not sealed")

// trailer is the fixed 16-byte block at the end of every artifact:
// metadata offset u64, format major u16, format minor u16, magic.
// All fields little-endian.
type trailer struct {
	metaOffset uint64
	major      uint16
	minor      uint16
}

func (t trailer) encode(buf []byte) {
	_ = buf[trailerLen-1]
	binary.LittleEndian.PutUint64(buf[0:8], t.metaOffset)
	binary.LittleEndian.PutUint16(buf[8:10], t.major)
	binary.LittleEndian.PutUint16(buf[10:12], t.minor)
	copy(buf[12:16], trailerMagic[:])
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != trailerLen {
		return trailer{}, fmt.Errorf("%w: %d-byte trailer", ErrUnsealed, len(buf))
	}
	if !bytes.Equal(buf[12:16], trailerMagic[:]) {
		return trailer{}, fmt.Errorf("%w: bad trailer magic", ErrUnsealed)
	}
	t := trailer{
		metaOffset: binary.LittleEndian.Uint64(buf[0:8]),
		major:      binary.LittleEndian.Uint16(buf[8:10]),
		minor:      binary.LittleEndian.Uint16(buf[10:12]),
	}
	if t.major != FormatMajor {
		return trailer{}, fmt.Errorf("%w: index format %d.%d", persistence.ErrInvalidVersion, t.major, t.minor)
	}
	return t, nil
}
