// Package prefixcode implements the self-delimiting integer codes used to
// store the gaps of a sorted sparse list.
//
// Every code maps a value v >= 0 to a bit string such that no code word is a
// prefix of another, so a stream of code words can be decoded sequentially
// without separators. The gap layer never assumes a particular family: the
// code used for each sparse width is chosen by a Family, injected through the
// sketch configuration.
package prefixcode

import (
	"fmt"
	"math/bits"

	"sketch.lopezb.com/internal/sketch/bitstream"
)

// Code is a prefix-free code over non-negative integers.
type Code interface {
	// Len returns the number of bits Write would emit for v.
	Len(v uint64) uint64
	// Write appends the code word for v.
	Write(w *bitstream.Writer, v uint64)
	// Read decodes one code word.
	Read(r *bitstream.Reader) uint64
	fmt.Stringer
}

// Gamma is the Elias gamma code of v+1: floor(log2(v+1)) zeros followed by
// v+1 in binary.
type Gamma struct{}

func (Gamma) Len(v uint64) uint64 {
	return 2*uint64(log2(v+1)) + 1
}

func (Gamma) Write(w *bitstream.Writer, v uint64) {
	writeGamma(w, v+1)
}

func (Gamma) Read(r *bitstream.Reader) uint64 {
	return readGamma(r) - 1
}

func (Gamma) String() string { return "gamma" }

// Delta is the Elias delta code of v+1: the bit length of v+1 in gamma code,
// followed by v+1 without its leading one.
type Delta struct{}

func (Delta) Len(v uint64) uint64 {
	n := log2(v + 1)
	return 2*uint64(log2(uint64(n)+1)) + 1 + uint64(n)
}

func (Delta) Write(w *bitstream.Writer, v uint64) {
	x := v + 1
	n := log2(x)
	writeGamma(w, uint64(n)+1)
	w.WriteBits(x, n)
}

func (Delta) Read(r *bitstream.Reader) uint64 {
	n := uint(readGamma(r) - 1)
	return (uint64(1)<<n | r.ReadBits(n)) - 1
}

func (Delta) String() string { return "delta" }

// ExpGolomb is the order-K exponential Golomb code: the gamma code of
// (v >> K) + 1 followed by the K low bits of v. Its length grows with the
// logarithm of the value, so an occasional very large gap stays cheap.
type ExpGolomb struct {
	K uint
}

func (c ExpGolomb) Len(v uint64) uint64 {
	return 2*uint64(log2(v>>c.K+1)) + 1 + uint64(c.K)
}

func (c ExpGolomb) Write(w *bitstream.Writer, v uint64) {
	writeGamma(w, v>>c.K+1)
	w.WriteBits(v, c.K)
}

func (c ExpGolomb) Read(r *bitstream.Reader) uint64 {
	q := readGamma(r) - 1
	return q<<c.K | r.ReadBits(c.K)
}

func (c ExpGolomb) String() string { return fmt.Sprintf("exp-golomb(%d)", c.K) }

// Rice is the Golomb code with divisor 2^K: the quotient v >> K in unary
// (zeros terminated by a one) followed by the K low bits of v.
type Rice struct {
	K uint
}

func (c Rice) Len(v uint64) uint64 {
	return v>>c.K + 1 + uint64(c.K)
}

func (c Rice) Write(w *bitstream.Writer, v uint64) {
	w.WriteZeros(v >> c.K)
	w.WriteBits(1, 1)
	w.WriteBits(v, c.K)
}

func (c Rice) Read(r *bitstream.Reader) uint64 {
	q := r.ReadUnary()
	return q<<c.K | r.ReadBits(c.K)
}

func (c Rice) String() string { return fmt.Sprintf("rice(%d)", c.K) }

// log2 returns floor(log2(x)) for x > 0.
func log2(x uint64) uint {
	return uint(bits.Len64(x)) - 1
}

func writeGamma(w *bitstream.Writer, x uint64) {
	n := log2(x)
	w.WriteZeros(uint64(n))
	w.WriteBits(x, n+1)
}

func readGamma(r *bitstream.Reader) uint64 {
	n := uint(r.ReadUnary())
	// The terminating one of the unary prefix is the leading bit of x.
	return uint64(1)<<n | r.ReadBits(n)
}
