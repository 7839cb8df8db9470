// Package hyperloglog implements a hybrid HyperLogLog sketch for cardinality
// estimation.
//
// The HyperLogLog (HLL) algorithm is a probabilistic data structure used to
// estimate the number of distinct elements in a multiset. It achieves this
// using a fixed amount of memory, regardless of the actual cardinality.
//
// This implementation is based on the following ideas:
//
//   - The use of a 64-bit hash function as proposed in [1], enabling cardinality
//     estimation beyond 10^9 elements.
//   - A configurable precision p (m = 2^p registers) and register size b, with
//     p=14 and b=6 (12KB of registers) as the default.
//   - A sparse representation that stores whole hash fingerprints, not just
//     registers, so that small sets are counted almost exactly [1].
//   - The cardinality estimation algorithm from Ertl [3], which provides better
//     accuracy than the original HyperLogLog formula [2].
//
// [1] Heule, Nunkesser, Hall: HyperLogLog in Practice: Algorithmic
//
//	Engineering of a State of The Art Cardinality Estimation Algorithm.
//
// [2] P. Flajolet, Eric Fusy, O. Gandouet, and F. Meunier. Hyperloglog: The
//
//	analysis of a near-optimal cardinality estimation algorithm.
//
// [3] O. Ertl. New cardinality estimation algorithms for HyperLogLog sketches.
//
// The Algorithm
// =============
//
// Each element is hashed to a 64-bit value. The top p bits select one of m=2^p
// registers, and the rank of the element is one more than the number of
// leading zeros of the remaining bits. Each register stores the maximum rank
// observed for its bucket, and the estimate is computed from the distribution
// of the register values.
//
// One Buffer, Three Views
// =======================
//
// A sketch owns a single buffer of m*b bits, rounded up to a whole number of
// 64-bit words. The buffer never grows. It is interpreted in one of three
// ways, and the interpretation is kept outside the buffer, in the tag and the
// counters (N entries using bitIndex bits):
//
//  1. A sparse fixed-width list. Every distinct fingerprint is packed into a
//     composite code of W bits (the bucket index on top, then either the hash
//     bits that follow it or an explicit rank) and the codes are kept sorted
//     in descending order:
//
//     +------+------+------+-----+--------+
//     | c[0] | c[1] | c[2] | ... | c[N-1] |
//     +------+------+------+-----+--------+
//
//  2. A sparse gap-coded list: the first code verbatim and every following
//     code as the prefix-free coded difference to its predecessor. This is the
//     same list in fewer bits once it is dense enough.
//
//  3. Dense registers: m packed b-bit values.
//
// A new sketch starts as a sparse list of the widest code width. When the
// buffer cannot take another entry, every code is narrowed to the next width
// class (32, 24, 16, 8 bits and finally the minimal width p+b, which only
// keeps the index and the rank). Narrowing can make distinct codes collide;
// collisions are removed. When even the minimal width does not fit, the list
// is materialized into dense registers, in the same buffer. That last step
// never reverts.
//
// While the sketch is sparse with a code width above the minimal width, the
// estimate comes from the number of distinct codes, corrected for collisions,
// and is almost exact. At the minimal width and in dense mode it comes from
// the register histogram.
//
// Concurrency
// ===========
//
// A Sketch has a single owner and no internal locking. Read-only methods may
// run concurrently with each other but never with a mutation.
package hyperloglog

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"sketch.lopezb.com/internal/sketch/bitstream"
	"sketch.lopezb.com/internal/sketch/composite"
	"sketch.lopezb.com/internal/sketch/gaplist"
	"sketch.lopezb.com/internal/sketch/prefixcode"
)

// Error is the error class for the package.
var Error = errs.Class("hyperloglog")

const (
	DefaultPrecision    = 14
	DefaultRegisterBits = 6

	// alpha is the "alpha" constant for 64-bit hashes from the Ertl paper.
	alpha = 0.721347520444481703680 // 0.5 / log(2)
)

type encoding uint8

const (
	dense  encoding = 0
	sparse encoding = 1
)

// Estimator selects the formula used on register histograms.
type Estimator uint8

const (
	// Ertl is the improved estimator of [3].
	Ertl Estimator = iota
	// Harmonic is the original harmonic mean estimator with linear counting
	// for small cardinalities.
	Harmonic
)

func (e Estimator) String() string {
	switch e {
	case Ertl:
		return "ertl"
	case Harmonic:
		return "harmonic"
	default:
		return fmt.Sprintf("estimator(%d)", uint8(e))
	}
}

// Outcome is what an insertion did to the sketch.
type Outcome uint8

const (
	// Inserted means the element changed the sketch.
	Inserted Outcome = iota
	// AlreadyPresent means the sketch already accounted for the element.
	AlreadyPresent
	// Materialized means the sketch became dense while handling the element.
	Materialized
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already present"
	case Materialized:
		return "materialized"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Config configures a Sketch.
type Config struct {
	Precision    uint
	RegisterBits uint

	// Codes picks the gap code of every sparse width. The choice is not
	// serialized: a sketch must be deserialized with the same family.
	Codes prefixcode.Family

	Estimator Estimator
	Log       *zap.Logger
}

// DefaultConfig returns p=14, b=6, tuned exponential Golomb gaps and the
// Ertl estimator.
func DefaultConfig() Config {
	return Config{
		Precision:    DefaultPrecision,
		RegisterBits: DefaultRegisterBits,
		Codes:        prefixcode.Tuned,
		Estimator:    Ertl,
	}
}

// Stats counts the representation changes of a sketch.
type Stats struct {
	Downgrades       uint64
	Materializations uint64
	Rewrites         uint64
}

// tag says how the buffer is interpreted: a sparse list of width-bit codes,
// or dense registers with their running summary.
type tag struct {
	encoding encoding
	width    uint8
	dense    denseSummary
}

// Sketch is a hybrid HyperLogLog sketch.
type Sketch struct {
	codec     composite.Codec
	codes     [composite.MaxWidth + 1]prefixcode.Code
	family    prefixcode.Family
	estimator Estimator
	log       *zap.Logger

	buf      []byte
	n        uint32
	bitIndex uint64
	tag      tag
	stats    Stats
}

// New returns an empty sketch with the default configuration.
func New() *Sketch {
	s, err := NewWithConfig(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

// NewWithConfig returns an empty sketch.
func NewWithConfig(cfg Config) (*Sketch, error) {
	codec, err := composite.New(cfg.Precision, cfg.RegisterBits)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if cfg.Estimator > Harmonic {
		return nil, Error.New("unknown estimator %d", cfg.Estimator)
	}
	if cfg.Codes == nil {
		cfg.Codes = prefixcode.Tuned
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	size := bitstream.Words(uint64(codec.Buckets())*uint64(codec.RegisterBits())) * 8
	s := &Sketch{
		codec:     codec,
		family:    cfg.Codes,
		estimator: cfg.Estimator,
		log:       cfg.Log,
		buf:       make([]byte, size),
	}
	for _, w := range codec.Widths() {
		s.codes[w] = cfg.Codes(w, uint64(size)*8)
	}
	s.Reset()
	return s, nil
}

// Config returns the configuration of the sketch.
func (s *Sketch) Config() Config {
	return Config{
		Precision:    s.codec.Precision(),
		RegisterBits: s.codec.RegisterBits(),
		Codes:        s.family,
		Estimator:    s.estimator,
		Log:          s.log,
	}
}

// Reset empties the sketch and returns it to the widest sparse width.
func (s *Sketch) Reset() {
	clear(s.buf)
	s.n, s.bitIndex = 0, 0
	s.tag = tag{encoding: sparse, width: uint8(s.codec.WidestWidth())}
	s.stats = Stats{}
}

// Clone returns a deep copy of the sketch.
func (s *Sketch) Clone() *Sketch {
	c := *s
	c.buf = make([]byte, len(s.buf))
	copy(c.buf, s.buf)
	return &c
}

// Add hashes data with xxhash and inserts it.
func (s *Sketch) Add(data []byte) Outcome {
	return s.Insert(xxhash.Sum64(data))
}

// AddString is Add for strings.
func (s *Sketch) AddString(data string) Outcome {
	return s.Insert(xxhash.Sum64String(data))
}

// Insert adds an element given by its 64-bit hash.
func (s *Sketch) Insert(hash uint64) Outcome {
	return s.InsertFingerprint(s.codec.Split(hash))
}

// InsertFingerprint adds an element given by its fingerprint. The register
// must be in [1, MaxRegister] and the index below 2^p.
func (s *Sketch) InsertFingerprint(fp composite.Fingerprint) Outcome {
	return s.insert(candidate{fp: fp})
}

// Contains reports whether the sketch already accounts for the element with
// the given hash: inserting it would not change the sketch.
func (s *Sketch) Contains(hash uint64) bool {
	fp := s.codec.Split(hash)
	if s.tag.encoding == dense {
		return s.registers().Get(fp.Index) >= fp.Register
	}

	l := s.list()
	return l.Contains(s.codec.Encode(fp.Index, fp.Register, fp.Hash, l.Width))
}

// Count returns the estimated cardinality rounded to an integer.
func (s *Sketch) Count() uint64 {
	return s.Estimate().Count()
}

// Register returns the register value of bucket i.
func (s *Sketch) Register(i uint32) uint8 {
	if i >= s.codec.Buckets() {
		panic(fmt.Sprintf("hyperloglog: bucket %d out of range", i))
	}
	if s.tag.encoding == dense {
		return s.registers().Get(i)
	}

	l := s.list()
	for code := range l.All() {
		register, index := s.codec.Decode(code, l.Width)
		if index == i {
			// The first code of a bucket carries its maximum.
			return register
		}
		if index < i {
			break
		}
	}
	return 0
}

// Occupied returns the number of non-empty buckets.
func (s *Sketch) Occupied() uint32 {
	if s.tag.encoding == dense {
		return s.registers().NonZero()
	}

	l := s.list()
	var (
		count uint32
		last  uint32
	)
	for code := range l.All() {
		index := s.codec.Index(code, l.Width)
		if count == 0 || index != last {
			count++
			last = index
		}
	}
	return count
}

// IsSparse reports whether the sketch still stores fingerprints.
func (s *Sketch) IsSparse() bool { return s.tag.encoding == sparse }

// Width returns the sparse code width in bits, or 0 once dense.
func (s *Sketch) Width() uint {
	if s.tag.encoding == dense {
		return 0
	}
	return uint(s.tag.width)
}

// Len returns the number of sparse entries.
func (s *Sketch) Len() uint32 { return s.n }

// BitIndex returns the number of buffer bits used by the sparse list.
func (s *Sketch) BitIndex() uint64 { return s.bitIndex }

// SizeBytes returns the size of the buffer.
func (s *Sketch) SizeBytes() int { return len(s.buf) }

// Stats returns the representation changes seen so far.
func (s *Sketch) Stats() Stats { return s.stats }

// Codec returns the composite codec of the sketch.
func (s *Sketch) Codec() composite.Codec { return s.codec }

func (s *Sketch) registers() PackedRegisters {
	return NewPackedRegisters(s.buf, s.codec.RegisterBits(), s.codec.Buckets())
}

// list builds the gap list view of the sparse buffer. The counters must be
// written back with store after any mutation.
func (s *Sketch) list() gaplist.List {
	w := uint(s.tag.width)
	return gaplist.List{
		Buf:      s.buf,
		Codec:    s.codec,
		Gaps:     s.codes[w],
		Width:    w,
		N:        s.n,
		BitIndex: s.bitIndex,
	}
}

func (s *Sketch) store(l *gaplist.List) {
	s.n, s.bitIndex = l.N, l.BitIndex
	s.tag.width = uint8(l.Width)
}

func (s *Sketch) compatible(o *Sketch) error {
	if s.codec.Precision() != o.codec.Precision() || s.codec.RegisterBits() != o.codec.RegisterBits() {
		return Error.New("incompatible sketches: p=%d b=%d and p=%d b=%d",
			s.codec.Precision(), s.codec.RegisterBits(), o.codec.Precision(), o.codec.RegisterBits())
	}
	return nil
}
