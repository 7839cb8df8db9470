package prefixcode

import "math/bits"

// Family picks the gap code for a sparse list of the given code width (in
// bits) stored in a buffer of capacityBits bits. It is consulted once per
// width when a sketch is created, never on the insertion path.
type Family func(width uint, capacityBits uint64) Code

// Tuned is the default Family. It selects an exponential Golomb code whose
// order matches the mean gap of a fixed-width list that exactly fills the
// buffer: capacityBits/width values spread over 2^width codes leave gaps of
// about 2^(width - log2(capacityBits/width)). That is the point where the
// list switches to gap coding, and the mean gap only shrinks afterwards.
func Tuned(width uint, capacityBits uint64) Code {
	entries := capacityBits / uint64(width)
	if entries < 2 {
		return ExpGolomb{K: 0}
	}

	// ceil(log2(entries))
	lg := uint(bits.Len64(entries - 1))
	if lg >= width {
		return ExpGolomb{K: 0}
	}
	return ExpGolomb{K: width - lg}
}

// Fixed returns a Family that uses c for every width.
func Fixed(c Code) Family {
	return func(uint, uint64) Code { return c }
}

// RiceFamily sizes a Rice code the same way Tuned sizes its exponential
// Golomb code. Rice codes are a little shorter on well-behaved gaps but pay a
// bit for every 2^K of an outlier.
func RiceFamily(width uint, capacityBits uint64) Code {
	k := Tuned(width, capacityBits).(ExpGolomb).K
	return Rice{K: k}
}
