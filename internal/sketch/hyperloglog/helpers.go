package hyperloglog

import (
	"encoding/binary"
	"math"
	"sync"
)

// hllSigma is the implementation of the `sigma(x)` helper function as defined in [3].
//
// This function is used by the Ertl algorithm to add the contribution of registers
// that are equal to zero.
func hllSigma(x float64) float64 {
	if x == 1. {
		return math.Inf(1)
	}

	zPrime := 0.0
	y := 1.0
	z := x

	for {
		x *= x
		zPrime = z
		z += x * y
		y += y

		if zPrime == z {
			break
		}
	}

	return z
}

// hllTau is the implementation of the `tau(x)` helper function as defined in [3].
//
// This function is used by the Ertl algorithm to correct for the bias introduced
// by saturated registers.
func hllTau(x float64) float64 {
	if x == 0. || x == 1. {
		return 0.
	}

	zPrime := 0.0
	y := 1.0
	z := 1 - x

	for {
		x = math.Sqrt(x)
		zPrime = z
		y *= 0.5
		z -= (1 - x) * (1 - x) * y

		if zPrime == z {
			break
		}
	}

	return z / 3
}

// HasValidMagic checks if data starts with the HLL magic bytes without allocation.
func HasValidMagic(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == 'H' && data[1] == 'Y' && data[2] == 'L' && data[3] == 'L'
}

// accumulatorPool reuses one-byte-per-register buffers for dense unions.
// We store *[]byte (pointer) instead of []byte (value) to avoid
// interface wrapping allocations (SA6002).
var accumulatorPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 1<<DefaultPrecision)
		return &b
	},
}

// GetAccumulator returns a zeroed buffer of m bytes from the pool.
// The caller must return it via PutAccumulator when done.
func GetAccumulator(m int) *[]byte {
	ptr := accumulatorPool.Get().(*[]byte)
	if cap(*ptr) < m {
		*ptr = make([]byte, m)
	}
	*ptr = (*ptr)[:m]

	// clear() compiles down to memclr calls.
	clear(*ptr)

	return ptr
}

// PutAccumulator returns the pointer to the pool.
func PutAccumulator(ptr *[]byte) {
	accumulatorPool.Put(ptr)
}

// rawHistogram builds the histogram of a one-byte-per-register accumulator.
func rawHistogram(data []byte) [64]uint32 {
	var histogram [64]uint32

	// Registers are likely to be zero in the tails of the distribution, so we
	// check 8 registers at a time and skip the individual increments for
	// all-zero blocks.
	i := 0
	for ; i+8 <= len(data); i += 8 {
		if binary.LittleEndian.Uint64(data[i:]) == 0 {
			histogram[0] += 8
			continue
		}

		histogram[data[i]]++
		histogram[data[i+1]]++
		histogram[data[i+2]]++
		histogram[data[i+3]]++
		histogram[data[i+4]]++
		histogram[data[i+5]]++
		histogram[data[i+6]]++
		histogram[data[i+7]]++
	}
	for ; i < len(data); i++ {
		histogram[data[i]]++
	}

	return histogram
}
