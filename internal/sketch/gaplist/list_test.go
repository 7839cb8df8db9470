package gaplist

import (
	"bytes"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"sketch.lopezb.com/internal/sketch/composite"
	"sketch.lopezb.com/internal/sketch/prefixcode"
)

func newList(t *testing.T, p, b uint, width uint, size int) *List {
	t.Helper()

	codec, err := composite.New(p, b)
	require.NoError(t, err)

	return &List{
		Buf:   make([]byte, size),
		Codec: codec,
		Gaps:  prefixcode.Tuned(width, uint64(size)*8),
		Width: width,
	}
}

// model is the reference: a set of codes read back in descending order.
type model map[uint32]struct{}

func (m model) sorted() []uint32 {
	out := make([]uint32, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

func requireList(t *testing.T, l *List, want []uint32) {
	t.Helper()

	got := slices.Collect(l.All())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, uint32(len(want)), l.N)
	require.NoError(t, l.Validate())

	if !l.IsGapCoded() {
		require.Equal(t, uint64(l.N)*uint64(l.Width), l.BitIndex)
	}
}

func TestInsertSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, tcase := range []struct {
		Name  string
		P, B  uint
		Width uint
		Bytes int
		Gap   bool
	}{
		{"p14 w32", 14, 6, 32, 12288, true},
		{"p14 w24", 14, 6, 24, 12288, true},
		{"p14 minimal", 14, 6, 20, 12288, true},
		{"p10 w16 minimal", 10, 6, 16, 768, true},
		{"p4 w8 minimal", 4, 4, 8, 8, true},
		{"p12 tiny w32", 12, 5, 32, 128, false},
	} {
		t.Run(tcase.Name, func(t *testing.T) {
			l := newList(t, tcase.P, tcase.B, tcase.Width, tcase.Bytes)
			m := model{}

			sawGap := false
			for i := 0; i < 100000; i++ {
				fp := l.Codec.Split(rng.Uint64())
				code := l.Codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width)

				before, bitIndex := l.N, l.BitIndex
				res := l.Insert(code)

				_, present := m[code]
				switch res {
				case Inserted:
					require.False(t, present)
					m[code] = struct{}{}
					require.Equal(t, before+1, l.N)
				case AlreadyPresent:
					require.True(t, present)
					require.Equal(t, before, l.N)
					require.Equal(t, bitIndex, l.BitIndex)
				case DowngradableSaturation:
					require.False(t, l.Narrowest())
				case Saturation:
					require.True(t, l.Narrowest())
				}
				sawGap = sawGap || l.IsGapCoded()

				if res == DowngradableSaturation || res == Saturation {
					break
				}
				if i%997 == 0 {
					requireList(t, l, m.sorted())
				}
			}

			requireList(t, l, m.sorted())
			if tcase.Gap {
				require.True(t, sawGap)
			}
			require.LessOrEqual(t, uint64(l.N), l.MaxEntries())
			require.LessOrEqual(t, l.BitIndex, l.Capacity())
		})
	}
}

func TestIdempotentInsert(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	l := newList(t, 12, 6, 32, 1024)

	var codes []uint32
	for i := 0; i < 300; i++ {
		fp := l.Codec.Split(rng.Uint64())
		code := l.Codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width)
		if l.Insert(code) == Inserted {
			codes = append(codes, code)
		}
	}
	require.True(t, l.IsGapCoded())

	for _, code := range codes {
		n, bitIndex := l.N, l.BitIndex
		require.Equal(t, AlreadyPresent, l.Insert(code))
		require.Equal(t, n, l.N)
		require.Equal(t, bitIndex, l.BitIndex)
		require.True(t, l.Contains(code))
	}
}

func TestContains(t *testing.T) {
	l := newList(t, 4, 4, 32, 64)

	for _, code := range []uint32{0x90000100, 0x90000001, 0x90000080} {
		require.Equal(t, Inserted, l.Insert(code))
	}
	require.False(t, l.IsGapCoded())

	require.True(t, l.Contains(0x90000080))
	require.False(t, l.Contains(0x90000081))
	require.False(t, l.Contains(0))
	require.False(t, l.Contains(0xF0000000))

	require.True(t, l.ToPrefixCode())
	require.True(t, l.IsGapCoded())
	require.True(t, l.Contains(0x90000001))
	require.True(t, l.Contains(0x90000100))
	require.False(t, l.Contains(0x90000000))
	require.False(t, l.Contains(0x90000002))
	require.False(t, l.Contains(0xFFFFFFFF))
}

func TestToPrefixCode(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := newList(t, 14, 6, 32, 12288)
	m := model{}

	// Fill the fixed form exactly.
	for uint64(l.N) < l.Capacity()/32 {
		fp := l.Codec.Split(rng.Uint64())
		code := l.Codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width)
		if l.Insert(code) == Inserted {
			m[code] = struct{}{}
		}
	}
	require.False(t, l.IsGapCoded())
	before := slices.Collect(l.All())
	bitIndex := l.BitIndex

	require.True(t, l.ToPrefixCode())
	require.True(t, l.IsGapCoded())
	require.Less(t, l.BitIndex, bitIndex)
	require.Empty(t, cmp.Diff(before, slices.Collect(l.All())))
	requireList(t, l, m.sorted())

	// Back to fixed and the same codes again.
	l.ToFixed()
	require.False(t, l.IsGapCoded())
	require.Equal(t, bitIndex, l.BitIndex)
	require.Empty(t, cmp.Diff(before, slices.Collect(l.All())))
}

func TestToPrefixCodeNotSmaller(t *testing.T) {
	l := newList(t, 4, 4, 32, 8)
	l.Gaps = prefixcode.Gamma{}

	require.False(t, l.ToPrefixCode(), "a single entry cannot shrink")

	require.Equal(t, Inserted, l.Insert(0xFFFFFFFF))
	require.Equal(t, Inserted, l.Insert(0))
	buf := bytes.Clone(l.Buf)

	// The buffer holds two codes; the gap between them needs 63 bits.
	require.False(t, l.ToPrefixCode())
	require.Equal(t, buf, l.Buf)
	require.Equal(t, DowngradableSaturation, l.Insert(0x80000000))
	require.Equal(t, buf, l.Buf)
	require.Equal(t, uint64(64), l.BitIndex)
}

func TestSpliceFallsBackToFixed(t *testing.T) {
	l := newList(t, 4, 4, 24, 64)
	l.Gaps = prefixcode.Gamma{}

	for _, code := range []uint32{0x800000, 0x800001, 0x800002} {
		require.Equal(t, Inserted, l.Insert(code))
	}
	require.True(t, l.ToPrefixCode())
	require.Equal(t, uint64(24+1+1), l.BitIndex)

	require.Equal(t, Inserted, l.Insert(0xFFFFFF))
	require.Equal(t, uint64(26+45), l.BitIndex)
	require.Equal(t, Inserted, l.Insert(0))
	require.Equal(t, uint64(71+47), l.BitIndex)
	require.True(t, l.IsGapCoded())

	// Splitting the last gap costs more than a fixed entry: the stream no
	// longer beats the fixed form and is rewritten.
	require.Equal(t, Inserted, l.Insert(0x400000))
	require.False(t, l.IsGapCoded())
	require.Equal(t, uint64(6*24), l.BitIndex)

	want := []uint32{0xFFFFFF, 0x800002, 0x800001, 0x800000, 0x400000, 0}
	require.Empty(t, cmp.Diff(want, slices.Collect(l.All())))
}

func TestSaturationAtNarrowest(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	l := newList(t, 8, 6, 14, 192)

	var res Result
	for res == Inserted || res == AlreadyPresent {
		fp := l.Codec.Split(rng.Uint64())
		res = l.Add(fp)
	}
	require.Equal(t, Saturation, res)
	require.NoError(t, l.Validate())

	n, bitIndex := l.N, l.BitIndex
	buf := bytes.Clone(l.Buf)
	for i := 0; i < 100; i++ {
		fp := l.Codec.Split(rng.Uint64())
		code := l.Codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width)
		if l.Contains(code) {
			continue
		}
		if l.Insert(code) == Saturation {
			require.Equal(t, n, l.N)
			require.Equal(t, bitIndex, l.BitIndex)
			require.Equal(t, buf, l.Buf)
			return
		}
		n, bitIndex = l.N, l.BitIndex
		buf = bytes.Clone(l.Buf)
	}
}

func TestDowngrade(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	for _, tcase := range []struct {
		Name  string
		P, B  uint
		Bytes int
	}{
		{"p14", 14, 6, 12288},
		{"p10", 10, 6, 768},
		{"p4", 4, 4, 8},
		{"p16 b4", 16, 4, 32768},
	} {
		t.Run(tcase.Name, func(t *testing.T) {
			codec, err := composite.New(tcase.P, tcase.B)
			require.NoError(t, err)
			widths := codec.Widths()

			for to := 1; to < len(widths); to++ {
				l := newList(t, tcase.P, tcase.B, widths[0], tcase.Bytes)
				best := map[uint32]uint8{}

				for {
					fp := l.Codec.Split(rng.Uint64())
					res := l.Add(fp)
					if res == DowngradableSaturation {
						break
					}
					best[fp.Index] = max(best[fp.Index], fp.Register)
				}

				expect := model{}
				for v := range l.All() {
					expect[l.Codec.Downgrade(v, l.Width, l.Width-widths[to])] = struct{}{}
				}
				n := l.N

				gaps := prefixcode.Tuned(widths[to], l.Capacity())
				removed, ok := l.Downgrade(widths[to], gaps)
				require.True(t, ok)
				require.Equal(t, widths[to], l.Width)
				require.Equal(t, n-uint32(len(expect)), removed)
				requireList(t, l, expect.sorted())

				// The first code of every bucket still holds its maximum.
				seen := map[uint32]bool{}
				for v := range l.All() {
					register, index := l.Codec.Decode(v, l.Width)
					if !seen[index] {
						seen[index] = true
						require.Equal(t, best[index], register)
					}
				}
				require.Len(t, seen, len(best))
			}
		})
	}
}

func TestDowngradeDoesNotFit(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	l := newList(t, 8, 6, 32, 256)

	for l.N < 40 {
		l.Add(l.Codec.Split(rng.Uint64()))
	}
	buf := bytes.Clone(l.Buf)
	n, bitIndex := l.N, l.BitIndex

	// A unary code makes every gap cost its whole value, and the narrowest
	// width has no fixed form to fall back to.
	removed, ok := l.Downgrade(14, prefixcode.Rice{K: 0})
	require.False(t, ok)
	require.Zero(t, removed)
	require.Equal(t, buf, l.Buf)
	require.Equal(t, n, l.N)
	require.Equal(t, bitIndex, l.BitIndex)
	require.Equal(t, uint(32), l.Width)
}

func TestDowngradeEmpty(t *testing.T) {
	l := newList(t, 14, 6, 32, 64)
	removed, ok := l.Downgrade(20, prefixcode.Gamma{})
	require.True(t, ok)
	require.Zero(t, removed)
	require.Zero(t, l.N)
	require.Zero(t, l.BitIndex)
	require.True(t, l.IsGapCoded())

	require.Equal(t, Inserted, l.Add(l.Codec.Split(1<<63)))
	require.Equal(t, uint64(20), l.BitIndex)
}

func TestValidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := newList(t, 12, 6, 32, 1024)
	for l.N < 280 {
		require.NotEqual(t, DowngradableSaturation, l.Add(l.Codec.Split(rng.Uint64())))
	}
	require.True(t, l.IsGapCoded())
	require.NoError(t, l.Validate())

	t.Run("bit index", func(t *testing.T) {
		bad := *l
		bad.BitIndex--
		require.Error(t, bad.Validate())
	})

	t.Run("count", func(t *testing.T) {
		bad := *l
		bad.N--
		require.Error(t, bad.Validate())
	})

	t.Run("beyond capacity", func(t *testing.T) {
		bad := *l
		bad.BitIndex = bad.Capacity() + 1
		require.Error(t, bad.Validate())
	})

	t.Run("order", func(t *testing.T) {
		bad := newList(t, 12, 6, 32, 64)
		bad.Insert(0x00100000)
		bad.Insert(0x00200000)
		// Swap the two fixed entries.
		bad.Buf[0], bad.Buf[4] = bad.Buf[4], bad.Buf[0]
		bad.Buf[1], bad.Buf[5] = bad.Buf[5], bad.Buf[1]
		bad.Buf[2], bad.Buf[6] = bad.Buf[6], bad.Buf[2]
		bad.Buf[3], bad.Buf[7] = bad.Buf[7], bad.Buf[3]
		err := bad.Validate()
		require.Error(t, err)
		require.True(t, Error.Has(err))
	})
}

func TestResultString(t *testing.T) {
	require.Equal(t, "downgradable saturation", DowngradableSaturation.String())
	require.Equal(t, "result(9)", Result(9).String())
}
