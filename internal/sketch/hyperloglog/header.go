package hyperloglog

import (
	"encoding/binary"
)

const (
	headerSize = 24
	Magic      = "HYLL"
)

type hllHeader struct {
	encoding          encoding
	precision         uint8
	registerBits      uint8
	width             uint8
	cachedCardinality uint64
	cacheInvalid      bool
	n                 uint32
	bitIndex          uint32
}

// serialize encodes the in-memory hllHeader struct into its 24-byte on-disk
// representation. This function is the counterpart to deserializeHeader.
func (h hllHeader) serialize() []byte {
	//
	// DESIGN
	// ------
	//
	// The header has a fixed 24-byte layout. Everything the buffer does not
	// say about itself lives here: how to read it (encoding, p, b, width) and
	// how much of it is used (N, bit index).
	//
	// +-------+----------+-----+-------------------------------+
	// | Bytes | Field    | Size| Notes                         |
	// +-------+----------+-----+-------------------------------+
	// | 0-3   | Magic    | 4   | "HYLL"                        |
	// | 4     | Encoding | 1   | 0 for dense, 1 for sparse     |
	// | 5     | p        | 1   | Precision                     |
	// | 6     | b        | 1   | Register bits                 |
	// | 7     | Width    | 1   | Sparse code width, 0 if dense |
	// | 8-15  | Card.    | 8   | Cached cardinality (uint64)   |
	// | 16-19 | N        | 4   | Sparse entries                |
	// | 20-23 | BitIndex | 4   | Sparse bits in use            |
	// +-------+----------+-----+-------------------------------+
	//

	buffer := make([]byte, headerSize)

	copy(buffer[0:4], Magic)
	buffer[4] = byte(h.encoding)
	buffer[5] = h.precision
	buffer[6] = h.registerBits
	buffer[7] = h.width

	// Little-endian everywhere, so the format does not depend on the
	// architecture that wrote it.
	binary.LittleEndian.PutUint64(buffer[8:16], h.cachedCardinality)

	// The MSB of the cardinality field (bit 7 of byte 15) is the "dirty bit".
	// A `1` indicates the cached value is stale and must be recomputed.
	buffer[15] &= 0x7F
	if h.cacheInvalid {
		buffer[15] |= 0x80
	}

	binary.LittleEndian.PutUint32(buffer[16:20], h.n)
	binary.LittleEndian.PutUint32(buffer[20:24], h.bitIndex)

	return buffer
}

// deserializeHeader parses the first 24 bytes of data. It only checks what
// can be checked without knowing the buffer: length, magic and encoding.
func deserializeHeader(data []byte) (*hllHeader, error) {
	if len(data) < headerSize {
		return nil, Error.New("invalid HLL data: slice is too short for header")
	}
	if !HasValidMagic(data) {
		return nil, Error.New("invalid HLL data: magic string not found")
	}

	h := &hllHeader{
		encoding:     encoding(data[4]),
		precision:    data[5],
		registerBits: data[6],
		width:        data[7],
		n:            binary.LittleEndian.Uint32(data[16:20]),
		bitIndex:     binary.LittleEndian.Uint32(data[20:24]),
	}
	if h.encoding > sparse {
		return nil, Error.New("invalid HLL data: unknown encoding value %d", data[4])
	}

	// The true cardinality never reaches 2^63, so the top bit is free to
	// carry the dirty flag.
	rawCardinality := binary.LittleEndian.Uint64(data[8:16])
	h.cacheInvalid = (rawCardinality >> 63) == 1
	h.cachedCardinality = rawCardinality & ^(uint64(1) << 63)

	return h, nil
}
