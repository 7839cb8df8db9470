package hyperloglog

import "math"

// denseSummary is what the estimators need from dense registers. It is kept
// up to date on every register update so that estimating never rescans the
// registers.
type denseSummary struct {
	harmonicSum float64
	zeroCount   uint32
	histogram   [64]uint32
}

// update accounts for a register going from one value to a greater one.
func (d *denseSummary) update(from, to uint8) {
	d.harmonicSum += math.Ldexp(1, -int(to)) - math.Ldexp(1, -int(from))
	if from == 0 {
		d.zeroCount--
	}
	d.histogram[from]--
	d.histogram[to]++
}

// summarize builds the summary of a register array with a single pass.
func summarize(regs Registers) denseSummary {
	var d denseSummary
	for _, v := range regs.All() {
		d.histogram[v]++
	}
	return fromHistogram(d.histogram)
}

// fromHistogram derives the summary of any register histogram.
func fromHistogram(histogram [64]uint32) denseSummary {
	d := denseSummary{histogram: histogram, zeroCount: histogram[0]}
	for k := len(histogram) - 1; k >= 0; k-- {
		d.harmonicSum += float64(histogram[k]) * math.Ldexp(1, -k)
	}
	return d
}

// denseAdd incorporates a fingerprint into the dense registers. It reports
// whether the register grew.
//
// The register is only ever raised, and the summary follows every change.
func (s *Sketch) denseAdd(index uint32, register uint8) bool {
	from, to := s.registers().SetIfGreater(index, register)
	if from == to {
		return false
	}
	s.tag.dense.update(from, to)
	return true
}
