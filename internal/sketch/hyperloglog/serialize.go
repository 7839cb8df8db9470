package hyperloglog

import (
	"encoding/binary"

	"sketch.lopezb.com/internal/sketch/bitstream"
)

// Serialize converts the sketch into a contiguous byte slice: the 24-byte
// header followed by the buffer exactly as it is used in memory.
//
//	+----------------+----------------------------------+
//	| Header (24 B)  | Buffer (m*b bits, whole words)   |
//	+----------------+----------------------------------+
//
// The header carries a freshly computed cardinality, so the cached count of
// a serialized sketch is always valid.
func (s *Sketch) Serialize() []byte {
	h := hllHeader{
		encoding:          s.tag.encoding,
		precision:         uint8(s.codec.Precision()),
		registerBits:      uint8(s.codec.RegisterBits()),
		cachedCardinality: s.Count(),
	}
	if s.tag.encoding == sparse {
		h.width = s.tag.width
		h.n = s.n
		h.bitIndex = uint32(s.bitIndex)
	}

	result := make([]byte, 0, headerSize+len(s.buf))
	result = append(result, h.serialize()...)
	result = append(result, s.buf...)
	return result
}

// CachedCount peeks into a serialized sketch to retrieve the cached
// cardinality without full deserialization. It returns false when the data
// is not a sketch or the dirty bit is set.
func CachedCount(data []byte) (uint64, bool) {
	//
	// DESIGN
	// ------
	//
	// The header reserves bytes 8-15 for the 64-bit cached cardinality. The
	// cardinality is stored little-endian, so its MSB, the dirty flag, is
	// bit 7 of byte 15.
	//
	if len(data) < headerSize || !HasValidMagic(data) {
		return 0, false
	}
	if (data[15] & 0x80) != 0 {
		return 0, false
	}

	raw := binary.LittleEndian.Uint64(data[8:16])
	return raw & ^(uint64(1) << 63), true
}

// Deserialize reconstructs a sketch with the default configuration. The
// precision and register size always come from the data.
func Deserialize(data []byte) (*Sketch, error) {
	return DeserializeWithConfig(data, DefaultConfig())
}

// DeserializeWithConfig reconstructs a sketch from its serialized form. The
// precision and register size of cfg are replaced by the ones in the data;
// the rest of cfg (gap codes, estimator, logger) must match the sketch that
// was serialized for a sparse sketch to decode.
//
// The data is copied, and validated strictly so that corrupt or truncated
// input returns an error instead of causing a panic later on.
func DeserializeWithConfig(data []byte, cfg Config) (*Sketch, error) {
	h, err := deserializeHeader(data)
	if err != nil {
		return nil, err
	}

	cfg.Precision, cfg.RegisterBits = uint(h.precision), uint(h.registerBits)
	s, err := NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	if len(data)-headerSize != len(s.buf) {
		return nil, Error.New("invalid HLL data: buffer of %d bytes, want %d", len(data)-headerSize, len(s.buf))
	}
	copy(s.buf, data[headerSize:])

	if h.encoding == dense {
		if err := s.loadDense(h); err != nil {
			return nil, err
		}
		return s, nil
	}

	if !s.codec.ValidWidth(uint(h.width)) {
		return nil, Error.New("invalid HLL data: width %d is not a width class", h.width)
	}
	s.tag = tag{encoding: sparse, width: h.width}
	s.n, s.bitIndex = h.n, uint64(h.bitIndex)

	l := s.list()
	if err := l.Validate(); err != nil {
		return nil, Error.Wrap(err)
	}
	if used := l.BitIndex; !bitstream.Zero(s.buf, used, l.Capacity()) {
		return nil, Error.New("invalid HLL data: bits set past bit index %d", used)
	}
	return s, nil
}

func (s *Sketch) loadDense(h *hllHeader) error {
	if h.width != 0 || h.n != 0 || h.bitIndex != 0 {
		return Error.New("invalid HLL data: dense sketch with sparse counters")
	}

	used := uint64(s.codec.Buckets()) * uint64(s.codec.RegisterBits())
	if !bitstream.Zero(s.buf, used, uint64(len(s.buf))*8) {
		return Error.New("invalid HLL data: bits set past the registers")
	}

	regs := s.registers()
	for i, v := range regs.All() {
		if v > s.codec.MaxRegister() {
			return Error.New("invalid HLL data: register %d is %d, max %d", i, v, s.codec.MaxRegister())
		}
	}
	s.tag = tag{encoding: dense, dense: summarize(regs)}
	return nil
}
