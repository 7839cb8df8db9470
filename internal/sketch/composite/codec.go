// Package composite packs a hash fingerprint into a single sortable integer.
//
// A composite code of width W bits always starts with the bucket index in its
// top p bits, so sorting codes sorts them by bucket first. What follows the
// index depends on the width:
//
//	W == p+b (the minimal width):
//
//	+-----------+------------+
//	| index (p) | register(b)|
//	+-----------+------------+
//
//	W > p+b, with r = W-p-1 payload bits:
//
//	+-----------+---+-------------------------------------------+
//	| index (p) | 0 | ^(0...01 t...t)          implicit, reg <= r |
//	+-----------+---+-------------------------------------------+
//	| index (p) | 1 | register (b) | remainder (r-b)  explicit   |
//	+-----------+---+-------------------------------------------+
//
// In the implicit form the payload is the complement of the hash bits that
// follow the index: register-1 zeros, the terminating one and as many of the
// following hash bits t as fit. The register is recovered by counting
// leading zeros. Only registers larger than r, which are rare, pay for an
// explicit register field.
//
// The complement makes numeric order agree with register order: within a
// bucket, a larger register always produces a larger code, explicit codes
// sort above implicit ones, and so the first code of every bucket in a
// descending list carries that bucket's maximum register.
package composite

import (
	"fmt"
	"math/bits"

	"github.com/zeebo/errs"
)

// Error is the error class for the package.
var Error = errs.Class("composite")

const (
	MinPrecision = 4
	MaxPrecision = 18

	// MaxWidth is the widest code, in bits.
	MaxWidth = 32
)

// byteWidths are the non-minimal width classes, widest first.
var byteWidths = [...]uint{32, 24, 16, 8}

// Fingerprint is the per-element input of the sketch: the bucket, the
// register magnitude observed for it and the full hash it was derived from.
type Fingerprint struct {
	Index    uint32
	Register uint8
	Hash     uint64
}

// Codec encodes fingerprints for a fixed precision p and register size b.
type Codec struct {
	p, b        uint
	maxRegister uint8
	widths      [len(byteWidths) + 1]uint8
	nwidths     int
}

// New returns a Codec for 2^p buckets of b-bit registers.
func New(p, b uint) (Codec, error) {
	if p < MinPrecision || p > MaxPrecision {
		return Codec{}, Error.New("precision %d out of range [%d, %d]", p, MinPrecision, MaxPrecision)
	}
	if b < 4 || b > 6 {
		return Codec{}, Error.New("register bits %d out of range [4, 6]", b)
	}

	c := Codec{p: p, b: b}
	c.maxRegister = uint8(min(uint(1)<<b-1, 64-p+1))

	for _, w := range byteWidths {
		if w > p+b {
			c.widths[c.nwidths] = uint8(w)
			c.nwidths++
		}
	}
	c.widths[c.nwidths] = uint8(p + b)
	c.nwidths++

	return c, nil
}

// Precision returns p.
func (c Codec) Precision() uint { return c.p }

// RegisterBits returns b.
func (c Codec) RegisterBits() uint { return c.b }

// Buckets returns 2^p.
func (c Codec) Buckets() uint32 { return 1 << c.p }

// MaxRegister is the largest register value a fingerprint can carry.
func (c Codec) MaxRegister() uint8 { return c.maxRegister }

// MinimalWidth is p+b, the narrowest width class.
func (c Codec) MinimalWidth() uint { return c.p + c.b }

// WidestWidth is the width a new sketch starts with.
func (c Codec) WidestWidth() uint { return uint(c.widths[0]) }

// Widths returns the width classes, widest first.
func (c Codec) Widths() []uint {
	out := make([]uint, c.nwidths)
	for i := range out {
		out[i] = uint(c.widths[i])
	}
	return out
}

// Narrower returns the width class following width, or false if width is
// already the minimal width.
func (c Codec) Narrower(width uint) (uint, bool) {
	for i := 0; i < c.nwidths-1; i++ {
		if uint(c.widths[i]) == width {
			return uint(c.widths[i+1]), true
		}
	}
	return 0, false
}

// ValidWidth reports whether width is one of the codec's width classes.
func (c Codec) ValidWidth(width uint) bool {
	for i := 0; i < c.nwidths; i++ {
		if uint(c.widths[i]) == width {
			return true
		}
	}
	return false
}

// Split derives the fingerprint of a 64-bit hash: the bucket is the top p
// bits and the register is one more than the number of leading zeros of the
// remaining bits, saturated at MaxRegister.
func (c Codec) Split(hash uint64) Fingerprint {
	lz := bits.LeadingZeros64(hash << c.p)
	return Fingerprint{
		Index:    uint32(hash >> (64 - c.p)),
		Register: uint8(min(lz+1, int(c.maxRegister))),
		Hash:     hash,
	}
}

// Index returns the bucket of a code without decoding the register.
func (c Codec) Index(code uint32, width uint) uint32 {
	return code >> (width - c.p)
}

// Encode packs a fingerprint into a code of the given width.
func (c Codec) Encode(index uint32, register uint8, hash uint64, width uint) uint32 {
	c.check(index, register)
	if !c.ValidWidth(width) {
		panic(fmt.Sprintf("composite: width %d is not a width class", width))
	}

	if width == c.p+c.b {
		return index<<c.b | uint32(register)
	}

	r := width - c.p - 1
	code := index << (r + 1)

	if uint(register) <= r {
		// The hash bits that follow the terminating one of the zero run.
		tail := r - uint(register)
		var follow uint32
		if tail > 0 {
			follow = uint32(hash << c.p << register >> (64 - tail))
		}
		frag := uint32(1)<<tail | follow
		return code | ^frag&(1<<r-1)
	}

	rem := r - c.b
	var remainder uint32
	if rem > 0 {
		// Top bits of the low hash word, so that narrowing an explicit code
		// by a right shift keeps exactly what a direct encode would keep.
		remainder = uint32(hash) >> (32 - rem)
	}
	return code | 1<<r | uint32(register)<<rem | remainder
}

// Decode returns the register and bucket stored in a code.
func (c Codec) Decode(code uint32, width uint) (register uint8, index uint32) {
	if width == c.p+c.b {
		return uint8(code & (1<<c.b - 1)), code >> c.b
	}

	r := width - c.p - 1
	index = code >> (r + 1)

	if code>>r&1 == 1 {
		return uint8(code >> (r - c.b) & (1<<c.b - 1)), index
	}

	frag := ^code & (1<<r - 1)
	if frag == 0 {
		panic(fmt.Sprintf("composite: implicit code %#x at width %d has no terminating bit", code, width))
	}
	lz := bits.LeadingZeros32(frag << (32 - r))
	return uint8(min(lz+1, int(c.maxRegister))), index
}

// Downgrade narrows a code of the given width by shift bits. The result is
// the code Encode would produce at the narrower width, except that an
// implicit code promoted to the explicit form carries a zero remainder
// because the low hash bits were never stored.
func (c Codec) Downgrade(code uint32, width, shift uint) uint32 {
	if shift == 0 {
		return code
	}

	nw := width - shift
	if width == c.p+c.b || nw < c.p+c.b || !c.ValidWidth(nw) {
		panic(fmt.Sprintf("composite: cannot downgrade width %d by %d", width, shift))
	}

	register, index := c.Decode(code, width)
	c.check(index, register)

	r := width - c.p - 1
	if code>>r&1 == 1 {
		if nw == c.p+c.b {
			return index<<c.b | uint32(register)
		}
		return code >> shift
	}

	// Rebuild the hash material the implicit code still holds and encode it
	// again: with fewer payload bits the register may no longer be
	// recoverable from the zero run and must become explicit.
	frag := uint64(^code & (1<<r - 1))
	hash := uint64(index)<<(64-c.p) | frag<<(64-c.p-r)
	return c.Encode(index, register, hash, nw)
}

func (c Codec) check(index uint32, register uint8) {
	if register == 0 || register > c.maxRegister {
		panic(fmt.Sprintf("composite: register %d out of range [1, %d]", register, c.maxRegister))
	}
	if index >= 1<<c.p {
		panic(fmt.Sprintf("composite: index %d out of range for precision %d", index, c.p))
	}
}
