package transform

import "encoding/binary"

// Record is one transformed row: the source row id, its assigned IVF
// partition and its PQ code.
type Record struct {
	RowID       uint64
	PartitionID uint32
	Code        []byte
}

// recordPrefixLen is the fixed wire prefix before the code bytes.
const recordPrefixLen = 12

// EncodedSize returns the wire size of a record carrying m code bytes.
func EncodedSize(m int) int {
	return recordPrefixLen + m
}

func (r *Record) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.RowID)
	binary.LittleEndian.PutUint32(buf[8:12], r.PartitionID)
	copy(buf[recordPrefixLen:], r.Code)
}

func (r *Record) decode(buf []byte, m int) {
	r.RowID = binary.LittleEndian.Uint64(buf[0:8])
	r.PartitionID = binary.LittleEndian.Uint32(buf[8:12])
	if cap(r.Code) < m {
		r.Code = make([]byte, m)
	}
	r.Code = r.Code[:m]
	copy(r.Code, buf[recordPrefixLen:recordPrefixLen+m])
}
