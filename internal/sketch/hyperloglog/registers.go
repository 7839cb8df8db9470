package hyperloglog

import (
	"fmt"
	"iter"

	"github.com/hideo55/go-popcount"

	"sketch.lopezb.com/internal/sketch/bitstream"
)

// Registers is a dense register store.
type Registers interface {
	Get(i uint32) uint8
	// SetIfGreater raises register i to v if v is greater, and returns the
	// value before and after.
	SetIfGreater(i uint32, v uint8) (from, to uint8)
	Clear()
	All() iter.Seq2[uint32, uint8]
}

// PackedRegisters stores m registers of b bits back to back in a buffer,
// with the same word layout as the sparse list that used the buffer before.
//
//	+--------+--------+--------+--//--+----------+
//	| reg[0] | reg[1] | reg[2] |  ..  | reg[m-1] |   b bits each
//	+--------+--------+--------+--//--+----------+
type PackedRegisters struct {
	buf  []byte
	bits uint
	m    uint32
}

var _ Registers = PackedRegisters{}

// NewPackedRegisters returns a view of m registers of the given size over buf.
func NewPackedRegisters(buf []byte, bits uint, m uint32) PackedRegisters {
	if uint64(len(buf))*8 < uint64(m)*uint64(bits) {
		panic(fmt.Sprintf("hyperloglog: %d bytes cannot hold %d registers of %d bits", len(buf), m, bits))
	}
	return PackedRegisters{buf: buf, bits: bits, m: m}
}

func (r PackedRegisters) Get(i uint32) uint8 {
	rd := bitstream.NewReader(r.buf, uint64(i)*uint64(r.bits))
	return uint8(rd.ReadBits(r.bits))
}

func (r PackedRegisters) SetIfGreater(i uint32, v uint8) (from, to uint8) {
	from = r.Get(i)
	if v <= from {
		return from, from
	}
	w := bitstream.NewWriter(r.buf, uint64(i)*uint64(r.bits))
	w.WriteBits(uint64(v), r.bits)
	return from, v
}

func (r PackedRegisters) Clear() {
	clear(r.buf)
}

func (r PackedRegisters) All() iter.Seq2[uint32, uint8] {
	return func(yield func(uint32, uint8) bool) {
		rd := bitstream.NewReader(r.buf, 0)
		for i := uint32(0); i < r.m; i++ {
			if !yield(i, uint8(rd.ReadBits(r.bits))) {
				return
			}
		}
	}
}

// NonZero counts the non-zero registers.
func (r PackedRegisters) NonZero() uint32 {
	//
	// DESIGN
	// ------
	//
	// We read as many whole registers as fit in a 64-bit word at once and
	// fold every b-bit field onto its lowest bit, so that the lowest bit of
	// a field is set iff the register is non-zero. A population count of the
	// folded word then counts the non-zero registers of the whole group.
	//
	per := uint32(bitstream.WordBits / r.bits)
	group := uint(per) * r.bits

	// One set bit at the bottom of every field of the group.
	var low uint64
	for k := uint(0); k < uint(per); k++ {
		low |= 1 << (k * r.bits)
	}

	rd := bitstream.NewReader(r.buf, 0)
	var count uint64
	i := uint32(0)
	for ; i+per <= r.m; i += per {
		x := rd.ReadBits(group)
		folded := x
		for k := uint(1); k < r.bits; k++ {
			folded |= x >> k
		}
		count += popcount.Count(folded & low)
	}
	for ; i < r.m; i++ {
		if rd.ReadBits(r.bits) != 0 {
			count++
		}
	}
	return uint32(count)
}
