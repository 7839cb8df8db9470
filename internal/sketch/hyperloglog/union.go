package hyperloglog

import (
	"sketch.lopezb.com/internal/sketch/composite"
	"sketch.lopezb.com/internal/sketch/gaplist"
)

// UnionCardinality estimates the cardinality of the union of two sketches
// without modifying either of them.
//
// The estimate is exact (in the sense of Estimate.Exact) unless both sketches
// are dense: two sparse lists are merged code by code, and a sparse list is
// folded into the dense registers of the other sketch, so nothing either
// sketch knows is lost. Two dense sketches are combined with the usual
// register-wise maximum.
func UnionCardinality(a, b *Sketch) (Estimate, error) {
	if err := a.compatible(b); err != nil {
		return Estimate{}, err
	}

	switch {
	case a.tag.encoding == sparse && b.tag.encoding == sparse:
		return Estimate{Value: sparseUnion(a, b), Exact: true}, nil
	case a.tag.encoding == sparse:
		return Estimate{Value: foldUnion(b, a), Exact: true}, nil
	case b.tag.encoding == sparse:
		return Estimate{Value: foldUnion(a, b), Exact: true}, nil
	default:
		return Estimate{Value: denseUnion(a, b), Exact: false}, nil
	}
}

// sparseUnion walks both lists at the narrower of their widths and tallies
// the distinct codes of the union.
func sparseUnion(a, b *Sketch) float64 {
	la, lb := a.list(), b.list()
	width := min(la.Width, lb.Width)

	x := newNarrowed(a.codec, &la, width)
	y := newNarrowed(a.codec, &lb, width)

	t := newTally(a.codec, width)
	for x.ok || y.ok {
		var v uint32
		switch {
		case !y.ok || (x.ok && x.cur > y.cur):
			v = x.cur
			x.next()
		case !x.ok || y.cur > x.cur:
			v = y.cur
			y.next()
		default:
			v = x.cur
			x.next()
			y.next()
		}
		t.add(v)
	}
	return t.estimate(a)
}

// narrowed reads a list as distinct codes of a narrower width, in descending
// order.
type narrowed struct {
	codec composite.Codec
	it    gaplist.Iterator
	from  uint
	shift uint
	cur   uint32
	ok    bool
}

func newNarrowed(codec composite.Codec, l *gaplist.List, width uint) *narrowed {
	n := &narrowed{codec: codec, it: l.Iter(), from: l.Width, shift: l.Width - width}
	if v, ok := n.it.Next(); ok {
		n.cur, n.ok = codec.Downgrade(v, n.from, n.shift), true
	}
	return n
}

func (n *narrowed) next() {
	for {
		v, ok := n.it.Next()
		if !ok {
			n.ok = false
			return
		}
		if d := n.codec.Downgrade(v, n.from, n.shift); d != n.cur {
			n.cur = d
			return
		}
	}
}

// foldUnion raises a copy of the dense summary of d with the per-bucket
// maxima of the sparse list of s.
func foldUnion(d, s *Sketch) float64 {
	summary := d.tag.dense
	regs := d.registers()

	l := s.list()
	var (
		seen bool
		last uint32
	)
	for code := range l.All() {
		register, index := s.codec.Decode(code, l.Width)
		if seen && index == last {
			continue
		}
		seen, last = true, index

		if current := regs.Get(index); register > current {
			summary.update(current, register)
		}
	}
	return d.fromSummary(&summary)
}

// denseUnion takes the register-wise maximum of two dense sketches in a
// pooled one-byte-per-register accumulator.
func denseUnion(a, b *Sketch) float64 {
	acc := GetAccumulator(int(a.codec.Buckets()))
	defer PutAccumulator(acc)

	raw := *acc
	for i, v := range a.registers().All() {
		raw[i] = v
	}
	for i, v := range b.registers().All() {
		if v > raw[i] {
			raw[i] = v
		}
	}

	d := fromHistogram(rawHistogram(raw))
	return a.fromSummary(&d)
}

// Merge adds every element of other to s. Other is not modified. Merging a
// sketch into itself does nothing.
func (s *Sketch) Merge(other *Sketch) error {
	if s == other {
		return nil
	}
	if err := s.compatible(other); err != nil {
		return err
	}

	if other.tag.encoding == dense {
		if s.tag.encoding == sparse {
			s.materialize()
		}
		for i, v := range other.registers().All() {
			if v != 0 {
				s.denseAdd(i, v)
			}
		}
		return nil
	}

	l := other.list()
	for code := range l.All() {
		s.insert(candidate{code: code, width: l.Width})
	}
	return nil
}
