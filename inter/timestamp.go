package inter

import (
	"encoding/binary"
	"time"
)

// Timestamp is a nanosecond-resolution point in time, as used throughout the
// consensus layer (block times, epoch boundaries, gas power windows). It is
// a plain uint64 rather than time.Time so that it RLP-encodes compactly and
// compares with simple integer arithmetic.
type Timestamp uint64

// FromUnix converts a standard library time.Time into a Timestamp.
func FromUnix(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time converts the Timestamp back into a time.Time, for logging and display.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Bytes returns the big-endian byte encoding of the timestamp, used when the
// timestamp is folded into a hash (see iblockproc and ier).
func (t Timestamp) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b
}
