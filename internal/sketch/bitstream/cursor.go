// Package bitstream provides sequential bit-level cursors over a byte buffer.
//
// The buffer is treated as an array of 64-bit words. Each word is stored in
// little-endian byte order, so the buffer has the same meaning on every
// architecture, and bits are consumed from the most significant end of a word
// first. Bit position 0 is therefore the MSB of the first word:
//
//	word 0                                    word 1
//	+------------------------------------+    +-----------------------------
//	| b0 b1 b2 ...                   b63 |    | b64 b65 ...
//	+------------------------------------+    +-----------------------------
//
// Cursors never grow the buffer. Callers validate capacity before writing;
// a write past the end of the buffer panics with an index out of range.
package bitstream

import (
	"encoding/binary"
	"math/bits"
)

// WordBits is the size of the unit the buffer is reinterpreted as.
const WordBits = 64

// Words returns the number of 64-bit words needed to hold n bits.
func Words(n uint64) uint64 {
	return (n + WordBits - 1) / WordBits
}

func word(buf []byte, i uint64) uint64 {
	return binary.LittleEndian.Uint64(buf[i*8:])
}

func putWord(buf []byte, i uint64, v uint64) {
	binary.LittleEndian.PutUint64(buf[i*8:], v)
}

// Writer writes bit fields at an explicit position inside a buffer. The zero
// value is not usable; create one with NewWriter.
type Writer struct {
	buf []byte
	pos uint64
}

// NewWriter returns a Writer positioned at bit pos.
func NewWriter(buf []byte, pos uint64) Writer {
	return Writer{buf: buf, pos: pos}
}

// Tell returns the current bit offset.
func (w *Writer) Tell() uint64 { return w.pos }

// Seek repositions the cursor for an in-place rewrite.
func (w *Writer) Seek(pos uint64) { w.pos = pos }

// WriteBits stores the n low bits of v at the current position and advances
// the cursor by n. n must be in [0, 64].
func (w *Writer) WriteBits(v uint64, n uint) {
	if n == 0 {
		return
	}
	if n < WordBits {
		v &= 1<<n - 1
	}

	wi := w.pos / WordBits
	off := uint(w.pos % WordBits)
	free := WordBits - off

	if n <= free {
		shift := free - n
		mask := (uint64(1)<<n - 1) << shift
		cur := word(w.buf, wi)
		putWord(w.buf, wi, cur&^mask|v<<shift)
	} else {
		// The field straddles two words: the high part fills the tail of
		// the current word, the low part opens the next one.
		spill := n - free
		cur := word(w.buf, wi)
		putWord(w.buf, wi, cur&^(uint64(1)<<free-1)|v>>spill)

		shift := WordBits - spill
		nxt := word(w.buf, wi+1)
		putWord(w.buf, wi+1, nxt&^((uint64(1)<<spill-1)<<shift)|v<<shift)
	}

	w.pos += uint64(n)
}

// WriteZeros writes n zero bits. Unlike WriteBits, n is not limited to a
// single word, which is what long unary prefixes need.
func (w *Writer) WriteZeros(n uint64) {
	for n > 0 {
		c := min(n, WordBits)
		w.WriteBits(0, uint(c))
		n -= c
	}
}

// Reader reads bit fields sequentially from a buffer.
type Reader struct {
	buf []byte
	pos uint64
}

// NewReader returns a Reader positioned at bit pos.
func NewReader(buf []byte, pos uint64) Reader {
	return Reader{buf: buf, pos: pos}
}

// Tell returns the current bit offset.
func (r *Reader) Tell() uint64 { return r.pos }

// Seek repositions the cursor.
func (r *Reader) Seek(pos uint64) { r.pos = pos }

// ReadBits returns the next n bits as the low bits of the result and
// advances the cursor. n must be in [0, 64].
func (r *Reader) ReadBits(n uint) uint64 {
	if n == 0 {
		return 0
	}

	wi := r.pos / WordBits
	off := uint(r.pos % WordBits)
	free := WordBits - off

	var v uint64
	if n <= free {
		v = word(r.buf, wi) << off >> (WordBits - n)
	} else {
		spill := n - free
		v = (word(r.buf, wi)<<off>>off)<<spill | word(r.buf, wi+1)>>(WordBits-spill)
	}

	r.pos += uint64(n)
	return v
}

// ReadUnary counts zero bits up to the next one bit, consumes the one bit as
// well and returns the count.
func (r *Reader) ReadUnary() uint64 {
	var count uint64
	for {
		wi := r.pos / WordBits
		off := uint(r.pos % WordBits)
		avail := uint64(WordBits - off)

		lz := uint64(bits.LeadingZeros64(word(r.buf, wi) << off))
		if lz < avail {
			count += lz
			r.pos += lz + 1
			return count
		}

		count += avail
		r.pos += avail
	}
}
