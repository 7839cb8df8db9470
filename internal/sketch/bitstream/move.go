package bitstream

// Move copies n bits starting at bit src to bit dst inside buf. The ranges
// may overlap in either direction. The copy proceeds one 64-bit chunk at a
// time and never decodes the payload, so moving the tail of a stream costs
// O(n/64) word operations.
func Move(buf []byte, dst, src, n uint64) {
	if n == 0 || dst == src {
		return
	}

	if dst > src {
		// Shifting towards the end: walk backwards so that every chunk is
		// read before the destination can overwrite it.
		for n > 0 {
			c := min(n, WordBits)
			n -= c
			r := NewReader(buf, src+n)
			v := r.ReadBits(uint(c))
			w := NewWriter(buf, dst+n)
			w.WriteBits(v, uint(c))
		}
		return
	}

	for done := uint64(0); done < n; {
		c := min(n-done, WordBits)
		r := NewReader(buf, src+done)
		v := r.ReadBits(uint(c))
		w := NewWriter(buf, dst+done)
		w.WriteBits(v, uint(c))
		done += c
	}
}

// Clear zeroes the bits in [from, to).
func Clear(buf []byte, from, to uint64) {
	if to <= from {
		return
	}
	w := NewWriter(buf, from)
	w.WriteZeros(to - from)
}

// Zero reports whether every bit in [from, to) is zero.
func Zero(buf []byte, from, to uint64) bool {
	r := NewReader(buf, from)
	for from < to {
		c := min(to-from, WordBits)
		if r.ReadBits(uint(c)) != 0 {
			return false
		}
		from += c
	}
	return true
}
