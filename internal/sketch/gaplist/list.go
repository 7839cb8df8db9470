// Package gaplist stores a strictly descending list of composite codes inside
// a fixed-size buffer.
//
// A list is kept in one of two physical forms:
//
//	fixed:   +------+------+------+-----+--------+
//	         | c[0] | c[1] | c[2] | ... | c[N-1] |   N*W bits
//	         +------+------+------+-----+--------+
//
//	gap:     +------+------+------+-----+--------+
//	         | c[0] | g[1] | g[2] | ... | g[N-1] |   W + sum len(g[i]) bits
//	         +------+------+------+-----+--------+
//
// where g[i] = c[i-1] - c[i] - 1 is written with a prefix-free code. Which
// form is in use is never stored: a list is gap coded iff its width is the
// narrowest width class or N*W > BitIndex. Every operation keeps that rule
// true, converting between the forms when needed.
//
// A List does not own anything. It is a view that the caller builds from the
// counters it keeps, and whose counters it copies back after every call.
package gaplist

import (
	"fmt"
	"iter"
	"sort"

	"github.com/zeebo/errs"

	"sketch.lopezb.com/internal/sketch/bitstream"
	"sketch.lopezb.com/internal/sketch/composite"
	"sketch.lopezb.com/internal/sketch/prefixcode"
)

// Error is the error class for the package.
var Error = errs.Class("gaplist")

// Result is the outcome of an insertion. The saturation results are part of
// the normal control flow of the owner, not failures.
type Result uint8

const (
	// Inserted means the code was added to the list.
	Inserted Result = iota
	// AlreadyPresent means the code was in the list and nothing changed.
	AlreadyPresent
	// DowngradableSaturation means the buffer cannot take the code at the
	// current width but a narrower width class exists.
	DowngradableSaturation
	// Saturation means the buffer cannot take the code at the narrowest
	// width.
	Saturation
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already present"
	case DowngradableSaturation:
		return "downgradable saturation"
	case Saturation:
		return "saturation"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// List is a view over a buffer holding N codes of Width bits in BitIndex
// bits. Gaps is the code used for the gaps at Width.
type List struct {
	Buf      []byte
	Codec    composite.Codec
	Gaps     prefixcode.Code
	Width    uint
	N        uint32
	BitIndex uint64
}

// GapCoded is the mode rule of a list with the given counters.
func GapCoded(n uint32, width uint, bitIndex uint64, narrowest bool) bool {
	return narrowest || uint64(n)*uint64(width) > bitIndex
}

// Capacity returns the size of the buffer in bits.
func (l *List) Capacity() uint64 { return uint64(len(l.Buf)) * 8 }

// Narrowest reports whether Width is the minimal width of the codec.
func (l *List) Narrowest() bool { return l.Width == l.Codec.MinimalWidth() }

// IsGapCoded reports the physical form of the list.
func (l *List) IsGapCoded() bool {
	return GapCoded(l.N, l.Width, l.BitIndex, l.Narrowest())
}

// MaxEntries is an upper bound on the number of codes the buffer can hold at
// the current width, whatever their values: every gap costs at least the
// length of a zero gap.
func (l *List) MaxEntries() uint64 {
	capacity, w := l.Capacity(), uint64(l.Width)
	if capacity < w {
		return 0
	}

	entries := 1 + (capacity-w)/l.Gaps.Len(0)
	if !l.Narrowest() {
		entries = max(entries, capacity/w)
	}
	return entries
}

// Add encodes a fingerprint at the current width and inserts it.
func (l *List) Add(fp composite.Fingerprint) Result {
	return l.Insert(l.Codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width))
}

// Insert adds code to the list, keeping it sorted in descending order.
func (l *List) Insert(code uint32) Result {
	if l.IsGapCoded() {
		return l.insertGap(code)
	}
	return l.insertFixed(code)
}

// Contains reports whether code is in the list.
func (l *List) Contains(code uint32) bool {
	if !l.IsGapCoded() {
		i := l.search(code)
		return i < int(l.N) && l.at(i) == code
	}

	for v := range l.All() {
		if v <= code {
			return v == code
		}
	}
	return false
}

// at returns the i-th code of a fixed list.
func (l *List) at(i int) uint32 {
	r := bitstream.NewReader(l.Buf, uint64(i)*uint64(l.Width))
	return uint32(r.ReadBits(l.Width))
}

// search returns the position of the first code of a fixed list that is not
// greater than code.
func (l *List) search(code uint32) int {
	return sort.Search(int(l.N), func(i int) bool {
		return l.at(i) <= code
	})
}

func (l *List) insertFixed(code uint32) Result {
	w := uint64(l.Width)

	i := l.search(code)
	if i < int(l.N) && l.at(i) == code {
		return AlreadyPresent
	}

	if l.BitIndex+w > l.Capacity() {
		if !l.ToPrefixCode() {
			return DowngradableSaturation
		}
		return l.insertGap(code)
	}

	from := uint64(i) * w
	bitstream.Move(l.Buf, from+w, from, l.BitIndex-from)
	wr := bitstream.NewWriter(l.Buf, from)
	wr.WriteBits(uint64(code), l.Width)

	l.N++
	l.BitIndex += w
	return Inserted
}

func (l *List) insertGap(code uint32) Result {
	full := DowngradableSaturation
	if l.Narrowest() {
		full = Saturation
	}
	w := uint64(l.Width)

	if l.N == 0 {
		if w > l.Capacity() {
			return full
		}
		wr := bitstream.NewWriter(l.Buf, 0)
		wr.WriteBits(uint64(code), l.Width)
		l.N, l.BitIndex = 1, w
		return Inserted
	}

	it := l.Iter()
	first, _ := it.Next()

	if code == first {
		return AlreadyPresent
	}

	if code > first {
		// The new code becomes the raw head and the old head turns into the
		// first gap; the rest of the stream is untouched.
		g := uint64(code - first - 1)
		if l.BitIndex+l.Gaps.Len(g) > l.Capacity() {
			return full
		}
		l.splice(w, w, g)
		wr := bitstream.NewWriter(l.Buf, 0)
		wr.WriteBits(uint64(code), l.Width)
		l.N++
		l.settle()
		return Inserted
	}

	prev := first
	for {
		at := it.Pos()
		next, ok := it.Next()
		if !ok {
			break
		}
		if next == code {
			return AlreadyPresent
		}
		if next > code {
			prev = next
			continue
		}

		// Replace the gap prev->next by prev->code and code->next.
		end := it.Pos()
		g1, g2 := uint64(prev-code-1), uint64(code-next-1)
		grown := l.BitIndex - (end - at) + l.Gaps.Len(g1) + l.Gaps.Len(g2)
		if grown > l.Capacity() {
			return full
		}
		l.splice(at, end, g1, g2)
		l.N++
		l.settle()
		return Inserted
	}

	g := uint64(prev - code - 1)
	if l.BitIndex+l.Gaps.Len(g) > l.Capacity() {
		return full
	}
	l.splice(l.BitIndex, l.BitIndex, g)
	l.N++
	l.settle()
	return Inserted
}

// splice replaces the bits in [at, end) by the given gaps and moves the tail
// of the stream to follow them.
func (l *List) splice(at, end uint64, gaps ...uint64) {
	var n uint64
	for _, g := range gaps {
		n += l.Gaps.Len(g)
	}

	bitIndex := l.BitIndex - (end - at) + n
	bitstream.Move(l.Buf, at+n, end, l.BitIndex-end)

	wr := bitstream.NewWriter(l.Buf, at)
	for _, g := range gaps {
		l.Gaps.Write(&wr, g)
	}

	if bitIndex < l.BitIndex {
		bitstream.Clear(l.Buf, bitIndex, l.BitIndex)
	}
	l.BitIndex = bitIndex
}

// settle rewrites a gap-coded list in fixed form once gap coding no longer
// saves space, which a few very large gaps can cause.
func (l *List) settle() {
	if !l.Narrowest() && l.BitIndex >= uint64(l.N)*uint64(l.Width) {
		l.ToFixed()
	}
}

// ToPrefixCode rewrites a fixed list in gap form. It returns false, leaving
// the list unchanged, when the gap form would not be strictly smaller.
func (l *List) ToPrefixCode() bool {
	if l.IsGapCoded() {
		panic("gaplist: ToPrefixCode on a gap-coded list")
	}
	if l.N < 2 {
		return false
	}

	size := uint64(l.Width)
	prev := l.at(0)
	for i := 1; i < int(l.N); i++ {
		v := l.at(i)
		size += l.Gaps.Len(uint64(prev - v - 1))
		prev = v
	}
	if size >= l.BitIndex {
		return false
	}

	snap, release := l.Snapshot()
	defer release()

	l.write(snap.All(), true)
	bitstream.Clear(l.Buf, size, l.BitIndex)
	l.BitIndex = size
	return true
}

// ToFixed rewrites a list stored in gap form in fixed form.
func (l *List) ToFixed() {
	if l.Narrowest() {
		panic("gaplist: the narrowest width is always gap coded")
	}
	size := uint64(l.N) * uint64(l.Width)
	if size > l.Capacity() {
		panic(fmt.Sprintf("gaplist: %d fixed codes of %d bits exceed the buffer", l.N, l.Width))
	}

	snap, release := l.Snapshot()
	defer release()

	l.write(snap.codes(true), false)
	if l.BitIndex > size {
		bitstream.Clear(l.Buf, size, l.BitIndex)
	}
	l.BitIndex = size
}

// write stores codes from the start of the buffer in the requested form and
// returns the number of bits written.
func (l *List) write(codes iter.Seq[uint32], gap bool) uint64 {
	wr := bitstream.NewWriter(l.Buf, 0)
	first := true
	var prev uint32
	for v := range codes {
		if gap && !first {
			l.Gaps.Write(&wr, uint64(prev-v-1))
		} else {
			wr.WriteBits(uint64(v), l.Width)
		}
		first = false
		prev = v
	}
	return wr.Tell()
}

// Downgrade narrows every code of the list to width to, drops the duplicates
// the narrowing produces and stores the result in whichever form the mode
// rule asks for at the new width, with gaps as the new gap code. It returns
// the number of removed duplicates. When the narrowed list does not fit in
// the buffer, Downgrade returns false and leaves the list untouched.
func (l *List) Downgrade(to uint, gaps prefixcode.Code) (removed uint32, ok bool) {
	if to >= l.Width || !l.Codec.ValidWidth(to) {
		panic(fmt.Sprintf("gaplist: cannot downgrade from width %d to %d", l.Width, to))
	}
	shift := l.Width - to

	// First pass: size the narrowed list without touching the buffer.
	var (
		n       uint32
		gapBits = uint64(to)
		prev    uint32
	)
	for v := range l.All() {
		d := l.Codec.Downgrade(v, l.Width, shift)
		if n > 0 {
			if d == prev {
				removed++
				continue
			}
			if d > prev {
				panic(fmt.Sprintf("gaplist: downgrade broke the order: %#x after %#x", d, prev))
			}
			gapBits += gaps.Len(uint64(prev - d - 1))
		}
		prev = d
		n++
	}
	if n == 0 {
		gapBits = 0
	}

	narrowest := to == l.Codec.MinimalWidth()
	gap := GapCoded(n, to, gapBits, narrowest)
	size := uint64(n) * uint64(to)
	if gap {
		size = gapBits
	}
	if size > l.Capacity() {
		return 0, false
	}

	snap, release := l.Snapshot()
	defer release()

	width := l.Width
	l.Width, l.Gaps = to, gaps
	narrowed := func(yield func(uint32) bool) {
		first := true
		var last uint32
		for v := range snap.All() {
			d := l.Codec.Downgrade(v, width, shift)
			if !first && d == last {
				continue
			}
			first, last = false, d
			if !yield(d) {
				return
			}
		}
	}
	if written := l.write(narrowed, gap); written != size {
		panic(fmt.Sprintf("gaplist: downgrade wrote %d bits, sized %d", written, size))
	}
	if size < l.BitIndex {
		bitstream.Clear(l.Buf, size, l.BitIndex)
	}
	l.N, l.BitIndex = n, size

	l.assertDescending()
	return removed, true
}

func (l *List) assertDescending() {
	var (
		count uint32
		prev  uint32
	)
	for v := range l.All() {
		if count > 0 && v >= prev {
			panic(fmt.Sprintf("gaplist: list not descending at entry %d: %#x after %#x", count, v, prev))
		}
		prev = v
		count++
	}
	if count != l.N {
		panic(fmt.Sprintf("gaplist: read %d entries, counters say %d", count, l.N))
	}
}

// Validate checks that the buffer holds a well formed list for the counters:
// strictly descending valid codes that end exactly at BitIndex.
func (l *List) Validate() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Error.New("corrupt list: %v", r)
		}
	}()

	if !l.Codec.ValidWidth(l.Width) {
		return Error.New("invalid width %d", l.Width)
	}
	if l.BitIndex > l.Capacity() {
		return Error.New("bit index %d beyond capacity %d", l.BitIndex, l.Capacity())
	}
	gap := l.IsGapCoded()
	if !gap && l.BitIndex != uint64(l.N)*uint64(l.Width) {
		return Error.New("fixed list of %d entries uses %d bits", l.N, l.BitIndex)
	}

	r := bitstream.NewReader(l.Buf, 0)
	var prev uint64
	for i := uint32(0); i < l.N; i++ {
		var v uint64
		if i == 0 || !gap {
			v = r.ReadBits(l.Width)
		} else {
			g := l.Gaps.Read(&r)
			if g >= prev {
				return Error.New("gap %d of entry %d underflows", g, i)
			}
			v = prev - g - 1
		}
		if r.Tell() > l.BitIndex {
			return Error.New("entry %d ends past bit index %d", i, l.BitIndex)
		}
		if i > 0 && v >= prev {
			return Error.New("entry %d is not descending", i)
		}

		register, _ := l.Codec.Decode(uint32(v), l.Width)
		if register == 0 || register > l.Codec.MaxRegister() {
			return Error.New("entry %d has register %d", i, register)
		}
		prev = v
	}

	if r.Tell() != l.BitIndex {
		return Error.New("entries end at bit %d, bit index is %d", r.Tell(), l.BitIndex)
	}
	return nil
}
