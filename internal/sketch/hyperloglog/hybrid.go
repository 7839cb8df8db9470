package hyperloglog

import (
	"go.uber.org/zap"

	"sketch.lopezb.com/internal/sketch/composite"
	"sketch.lopezb.com/internal/sketch/gaplist"
)

// candidate is an element waiting to be inserted: either a fingerprint, or a
// code taken from another sketch together with the width it was stored at.
type candidate struct {
	fp    composite.Fingerprint
	code  uint32
	width uint
}

// at returns the candidate as a code of the given width, which is never wider
// than the width of a borrowed code.
func (c candidate) at(codec composite.Codec, width uint) uint32 {
	if c.width == 0 {
		return codec.Encode(c.fp.Index, c.fp.Register, c.fp.Hash, width)
	}
	return codec.Downgrade(c.code, c.width, c.width-width)
}

func (c candidate) split(codec composite.Codec) (index uint32, register uint8) {
	if c.width == 0 {
		return c.fp.Index, c.fp.Register
	}
	register, index = codec.Decode(c.code, c.width)
	return index, register
}

// insert drives the state machine: it inserts into the sparse list at the
// current width, narrows the list when it is full and materializes the dense
// registers when even the minimal width is full.
func (s *Sketch) insert(c candidate) Outcome {
	//
	// DESIGN
	// ------
	//
	// Saturation is an ordinary result of the gap list, not an error: the
	// list reports DowngradableSaturation when a narrower width class may
	// still have room and Saturation when it is already at the minimal
	// width. Each result moves the sketch one step down the one-way chain
	//
	//	sparse(widest) -> ... -> sparse(p+b) -> dense
	//
	// and the insertion is retried in the new representation. The chain is
	// finite, so the loop always ends.
	//
	// Before scanning the list we check the cheap bound: once N reaches the
	// number of entries the buffer could hold with all gaps at their minimum
	// size, no insertion can succeed at this width.
	//
	materialized := false
	for {
		if s.tag.encoding == dense {
			index, register := c.split(s.codec)
			changed := s.denseAdd(index, register)
			switch {
			case materialized:
				return Materialized
			case changed:
				return Inserted
			default:
				return AlreadyPresent
			}
		}

		if c.width != 0 && c.width < uint(s.tag.width) {
			// A borrowed code narrower than our list: the list follows it.
			materialized = s.shrinkTo(c.width)
			continue
		}

		l := s.list()
		if uint64(l.N) >= l.MaxEntries() {
			materialized = s.shrink()
			continue
		}

		gap := l.IsGapCoded()
		res := l.Insert(c.at(s.codec, l.Width))
		s.store(&l)
		if l.IsGapCoded() != gap {
			s.stats.Rewrites++
			s.log.Debug("sparse list rewritten",
				zap.Uint("width", l.Width),
				zap.Bool("gap_coded", !gap),
				zap.Uint32("n", l.N),
				zap.Uint64("bit_index", l.BitIndex))
		}

		switch res {
		case gaplist.Inserted:
			return Inserted
		case gaplist.AlreadyPresent:
			return AlreadyPresent
		case gaplist.DowngradableSaturation, gaplist.Saturation:
			materialized = s.shrink()
		}
	}
}

// shrink moves the sparse list to the next narrower width, or materializes it
// at the minimal width. It reports whether it materialized.
func (s *Sketch) shrink() bool {
	to, ok := s.codec.Narrower(uint(s.tag.width))
	if !ok {
		s.materialize()
		return true
	}
	return s.shrinkTo(to)
}

// shrinkTo downgrades the list to width to, or to the first narrower width
// class it fits in. It reports whether it had to materialize instead.
func (s *Sketch) shrinkTo(to uint) bool {
	for ok := true; ok; to, ok = s.codec.Narrower(to) {
		l := s.list()
		from := l.Width
		removed, fits := l.Downgrade(to, s.codes[to])
		if !fits {
			continue
		}
		s.store(&l)
		s.stats.Downgrades++
		s.log.Debug("sparse list downgraded",
			zap.Uint("from", from),
			zap.Uint("to", to),
			zap.Uint32("removed", removed),
			zap.Uint32("n", l.N),
			zap.Uint64("bit_index", l.BitIndex))
		return false
	}

	s.materialize()
	return true
}

// materialize replaces the sparse list by dense registers in the same
// buffer. The list is read from a scratch copy while the buffer is rebuilt.
func (s *Sketch) materialize() {
	l := s.list()
	snap, release := l.Snapshot()
	defer release()

	clear(s.buf)
	regs := s.registers()
	for code := range snap.All() {
		register, index := s.codec.Decode(code, snap.Width)
		regs.SetIfGreater(index, register)
	}

	s.tag = tag{encoding: dense, dense: summarize(regs)}
	s.n, s.bitIndex = 0, 0
	s.stats.Materializations++

	s.log.Debug("sparse list materialized",
		zap.Uint("from", snap.Width),
		zap.Uint32("n", snap.N),
		zap.Uint64("bit_index", snap.BitIndex),
		zap.Uint32("zeros", s.tag.dense.zeroCount))
}
