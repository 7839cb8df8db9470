package gaplist

import (
	"iter"
	"sync"

	"sketch.lopezb.com/internal/sketch/bitstream"
	"sketch.lopezb.com/internal/sketch/prefixcode"
)

// Iterator walks a list from its largest code down. Gap-coded lists can only
// be decoded sequentially.
type Iterator struct {
	r     bitstream.Reader
	gaps  prefixcode.Code
	width uint
	gap   bool
	left  uint32
	cur   uint32
	first bool
}

// Iter returns an Iterator positioned before the first code.
func (l *List) Iter() Iterator {
	return l.iter(l.IsGapCoded())
}

func (l *List) iter(gap bool) Iterator {
	return Iterator{
		r:     bitstream.NewReader(l.Buf, 0),
		gaps:  l.Gaps,
		width: l.Width,
		gap:   gap,
		left:  l.N,
		first: true,
	}
}

// Next returns the next code, or false after the last one.
func (it *Iterator) Next() (uint32, bool) {
	if it.left == 0 {
		return 0, false
	}
	it.left--

	if it.first || !it.gap {
		it.first = false
		it.cur = uint32(it.r.ReadBits(it.width))
		return it.cur, true
	}

	it.cur -= uint32(it.gaps.Read(&it.r)) + 1
	return it.cur, true
}

// Pos returns the bit position of the next entry.
func (it *Iterator) Pos() uint64 { return it.r.Tell() }

// All yields the codes of the list in descending order.
func (l *List) All() iter.Seq[uint32] {
	return l.codes(l.IsGapCoded())
}

// codes reads the list in the given form, whatever the mode rule says. A
// splice can leave a gap stream that the rule already calls fixed until it is
// rewritten.
func (l *List) codes(gap bool) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		it := l.iter(gap)
		for v, ok := it.Next(); ok; v, ok = it.Next() {
			if !yield(v) {
				return
			}
		}
	}
}

// scratchPool reuses buffer copies for whole-list rewrites. We store *[]byte
// instead of []byte to avoid interface wrapping allocations (SA6002).
var scratchPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// Snapshot returns a read-only view of the list over a pooled copy of its
// buffer, so that the list can be rewritten in place while it is read. The
// caller must call release when done with the view.
func (l *List) Snapshot() (snap List, release func()) {
	ptr := scratchPool.Get().(*[]byte)
	if cap(*ptr) < len(l.Buf) {
		*ptr = make([]byte, len(l.Buf))
	}
	buf := (*ptr)[:len(l.Buf)]
	copy(buf, l.Buf)

	snap = *l
	snap.Buf = buf
	return snap, func() { scratchPool.Put(ptr) }
}
