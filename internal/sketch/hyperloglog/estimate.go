package hyperloglog

import (
	"math"

	"sketch.lopezb.com/internal/sketch/composite"
)

// Estimate is a cardinality estimate. Exact is false when the estimate was
// computed from a lossy combination of two sketches (the register-wise
// maximum of two dense sketches) rather than from everything either of them
// stored.
type Estimate struct {
	Value float64
	Exact bool
}

// Count rounds the estimate to an integer.
func (e Estimate) Count() uint64 {
	if e.Value <= 0 || math.IsNaN(e.Value) {
		return 0
	}
	return uint64(math.Round(e.Value))
}

// Estimate returns the estimated cardinality of the sketch.
func (s *Sketch) Estimate() Estimate {
	if s.tag.encoding == dense {
		return Estimate{Value: s.fromSummary(&s.tag.dense), Exact: true}
	}

	l := s.list()
	t := newTally(s.codec, l.Width)
	for code := range l.All() {
		t.add(code)
	}
	return Estimate{Value: t.estimate(s), Exact: true}
}

// fromSummary applies the configured estimator to dense registers.
func (s *Sketch) fromSummary(d *denseSummary) float64 {
	if s.estimator == Harmonic {
		return harmonicEstimate(d.harmonicSum, d.zeroCount, s.codec.Buckets())
	}
	return ertlEstimate(&d.histogram, s.codec.Buckets(), s.codec.MaxRegister())
}

// tally consumes a strictly descending stream of codes of one width. At the
// flagged widths it counts distinct codes; at the minimal width it builds
// the histogram of the per-bucket maxima.
type tally struct {
	codec     composite.Codec
	width     uint
	n         uint64
	buckets   uint32
	lastIndex uint32
	histogram [64]uint32
}

func newTally(codec composite.Codec, width uint) tally {
	return tally{codec: codec, width: width}
}

func (t *tally) add(code uint32) {
	t.n++
	if t.width != t.codec.MinimalWidth() {
		return
	}

	register, index := t.codec.Decode(code, t.width)
	if t.buckets > 0 && index == t.lastIndex {
		return
	}
	// Descending order: the first code of a bucket has its maximum.
	t.histogram[register]++
	t.buckets++
	t.lastIndex = index
}

func (t *tally) estimate(s *Sketch) float64 {
	if t.width != t.codec.MinimalWidth() {
		return hashListEstimate(t.n, t.width)
	}

	histogram := t.histogram
	histogram[0] = t.codec.Buckets() - t.buckets
	d := fromHistogram(histogram)
	return s.fromSummary(&d)
}

// hashListEstimate inverts the expected number of distinct values among n
// uniform draws from the 2^(width-1) hash prefixes a flagged code keeps.
func hashListEstimate(distinct uint64, width uint) float64 {
	if distinct == 0 {
		return 0
	}
	space := math.Ldexp(1, int(width)-1)
	return math.Log1p(-float64(distinct)/space) / math.Log1p(-1/space)
}

// ertlEstimate is the improved estimator of [3] over a register histogram.
// Registers saturate at maxRegister, which plays the role of q+1.
func ertlEstimate(histogram *[64]uint32, m uint32, maxRegister uint8) float64 {
	//
	// DESIGN
	// ------
	//
	// This is the core of the Ertl estimation formula. It calculates a raw
	// estimate z from the register histogram, using hllTau and hllSigma to
	// account for the bias of saturated and zero registers. With 64-bit
	// hashes and enough register bits, q = 64-p and registers never saturate
	// before q+1; with 4-bit registers they saturate at 15 and the formula is
	// applied as if the hash had only maxRegister-1 bits after the index.
	//
	q := int(maxRegister) - 1
	mf := float64(m)

	z := mf * hllTau(float64(m-histogram[q+1])/mf)
	for j := q; j >= 1; j-- {
		z += float64(histogram[j])
		z *= 0.5
	}
	z += mf * hllSigma(float64(histogram[0])/mf)

	// For an empty sketch sigma(1) is infinite and the estimate is zero.
	return alpha * mf * mf / z
}

// harmonicEstimate is the estimator of [2] with linear counting for small
// cardinalities.
func harmonicEstimate(harmonicSum float64, zeroCount uint32, m uint32) float64 {
	mf := float64(m)

	var a float64
	switch m {
	case 16:
		a = 0.673
	case 32:
		a = 0.697
	case 64:
		a = 0.709
	default:
		a = 0.7213 / (1 + 1.079/mf)
	}

	e := a * mf * mf / harmonicSum
	if e <= 2.5*mf && zeroCount > 0 {
		return mf * math.Log(mf/float64(zeroCount))
	}
	return e
}
