package datasets

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/Noofbiz/sketchrnn/stroke"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrBatchIndex is returned by GetBatch for an index outside [0, NumBatches).
	ErrBatchIndex = errors.New("batch index out of range")

	// ErrNotEnoughData is returned by RandomBatch when fewer sequences than
	// BatchSize survived preprocessing.
	ErrNotEnoughData = errors.New("not enough sequences for a batch")

	// ErrAlreadyNormalized is returned when Normalize is called twice.
	ErrAlreadyNormalized = errors.New("loader already normalized")

	// ErrEmptyData is returned when a scale factor is requested from a split
	// with no points.
	ErrEmptyData = errors.New("no data to compute a scale factor from")

	// ErrZeroScale is returned when a scale factor cannot be used as a
	// divisor: negative, zero, NaN or infinite.
	ErrZeroScale = errors.New("scale factor is not positive and finite")
)

// LoaderConfig holds the preprocessing and batching parameters of one split.
type LoaderConfig struct {
	// BatchSize is the number of sketches per batch. Default 100.
	BatchSize int

	// MaxSeqLength drops longer sketches and sets the padded length of the
	// stroke-5 tensor. The zero value selects the default of 250, it never
	// means "keep nothing". Negative values are rejected.
	MaxSeqLength int

	// ScaleFactor divides dx and dy during preprocessing. Default 1.0.
	// Normalize later divides again by the normalizing factor.
	ScaleFactor float64

	// RandomScaleFactor stretches x and y independently by a factor drawn
	// from [1-r, 1+r] for every sketch of every batch. 0 disables it.
	RandomScaleFactor float64

	// AugmentStrokeProb is the point-merging probability passed to
	// stroke.Augment. 0 disables augmentation.
	AugmentStrokeProb float64

	// Limit clamps dx and dy into [-Limit, Limit]. Default 1000.
	Limit float64

	// SampleRand picks random batch indices, ScaleRand draws the per-axis
	// stretch factors and AugmentRand drives stroke.Augment. Nil generators
	// are time-seeded. Use Seed to make all three reproducible.
	SampleRand  *rand.Rand
	ScaleRand   *rand.Rand
	AugmentRand *rand.Rand
}

// Seed replaces the three random generators with generators seeded from
// seed, seed+1 and seed+2.
func (c *LoaderConfig) Seed(seed int64) {
	c.SampleRand = rand.New(rand.NewSource(seed))
	c.ScaleRand = rand.New(rand.NewSource(seed + 1))
	c.AugmentRand = rand.New(rand.NewSource(seed + 2))
}

func (c *LoaderConfig) setDefaults() error {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MaxSeqLength == 0 {
		c.MaxSeqLength = 250
	}
	if c.ScaleFactor == 0 {
		c.ScaleFactor = 1.0
	}
	if c.Limit == 0 {
		c.Limit = 1000
	}
	switch {
	case c.BatchSize < 0:
		return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
	case c.MaxSeqLength < 0:
		return fmt.Errorf("max sequence length must be > 0, got %d", c.MaxSeqLength)
	case c.ScaleFactor < 0:
		return fmt.Errorf("scale factor must be > 0, got %g", c.ScaleFactor)
	case c.RandomScaleFactor < 0:
		return fmt.Errorf("random scale factor must be >= 0, got %g", c.RandomScaleFactor)
	case c.AugmentStrokeProb < 0 || c.AugmentStrokeProb > 1:
		return fmt.Errorf("augment stroke probability must be in [0, 1], got %g", c.AugmentStrokeProb)
	case c.Limit < 0:
		return fmt.Errorf("limit must be > 0, got %g", c.Limit)
	}
	seed := time.Now().UnixNano()
	if c.SampleRand == nil {
		c.SampleRand = rand.New(rand.NewSource(seed))
	}
	if c.ScaleRand == nil {
		c.ScaleRand = rand.New(rand.NewSource(seed + 1))
	}
	if c.AugmentRand == nil {
		c.AugmentRand = rand.New(rand.NewSource(seed + 2))
	}
	return nil
}

// Loader holds one preprocessed split and serves batches from it.
//
// The stored sequences are written by NewLoader and Normalize only. Batches
// are built from copies, so a Loader whose RandomScaleFactor and
// AugmentStrokeProb are both zero can serve GetBatch from several goroutines.
// RandomBatch, and any batch on a loader with augmentation, draws from the
// configured generators and must not be called concurrently.
type Loader struct {
	cfg        LoaderConfig
	strokes    []stroke.Sequence
	labels     []int
	numBatches int

	scaleFactor float64
	normalized  bool
}

// NewLoader preprocesses strokes: sequences longer than MaxSeqLength are
// dropped, offsets are clamped to [-Limit, Limit] and divided by
// ScaleFactor, and the survivors are sorted by length (ties keep their input
// order). labels is permuted alongside. The input slices are not modified.
func NewLoader(strokes []stroke.Sequence, labels []int, cfg LoaderConfig) (*Loader, error) {
	if len(strokes) != len(labels) {
		return nil, fmt.Errorf("strokes and labels lengths don't match: %d != %d", len(strokes), len(labels))
	}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	l := &Loader{cfg: cfg, scaleFactor: cfg.ScaleFactor}
	l.preprocess(strokes, labels)
	return l, nil
}

func (l *Loader) preprocess(strokes []stroke.Sequence, labels []int) {
	limit := float32(l.cfg.Limit)
	scale := float32(l.cfg.ScaleFactor)

	rawData := make([]stroke.Sequence, 0, len(strokes))
	newLabels := make([]int, 0, len(strokes))
	for i, s := range strokes {
		if len(s) > l.cfg.MaxSeqLength {
			continue
		}
		data := make(stroke.Sequence, len(s))
		for j, p := range s {
			data[j] = stroke.Point{
				DX:   clamp(p.DX, limit) / scale,
				DY:   clamp(p.DY, limit) / scale,
				Lift: p.Lift,
			}
		}
		rawData = append(rawData, data)
		newLabels = append(newLabels, labels[i])
	}

	idx := make([]int, len(rawData))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return len(rawData[idx[a]]) < len(rawData[idx[b]])
	})

	l.strokes = make([]stroke.Sequence, len(idx))
	l.labels = make([]int, len(idx))
	for i, j := range idx {
		l.strokes[i] = rawData[j]
		l.labels[i] = newLabels[j]
	}
	log.Printf("total images <= max_seq_len is %d", len(l.strokes))
	l.numBatches = len(l.strokes) / l.cfg.BatchSize
}

func clamp(v, limit float32) float32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Len returns the number of sequences kept by preprocessing.
func (l *Loader) Len() int { return len(l.strokes) }

// NumBatches returns how many full batches GetBatch can serve. Trailing
// sequences that don't fill a batch are only reachable through RandomBatch.
func (l *Loader) NumBatches() int { return l.numBatches }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.cfg.BatchSize }

// MaxSeqLength returns the filter threshold and padded length.
func (l *Loader) MaxSeqLength() int { return l.cfg.MaxSeqLength }

// ScaleFactor returns the last factor the offsets were divided by.
func (l *Loader) ScaleFactor() float64 { return l.scaleFactor }

// Normalized reports whether Normalize has run.
func (l *Loader) Normalized() bool { return l.normalized }

// Labels returns a copy of the labels in sorted-sequence order.
func (l *Loader) Labels() []int {
	out := make([]int, len(l.labels))
	copy(out, l.labels)
	return out
}

// Example returns a copy of sequence i and its label.
func (l *Loader) Example(i int) (stroke.Sequence, int, error) {
	if i < 0 || i >= len(l.strokes) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", i, len(l.strokes))
	}
	return l.strokes[i].Clone(), l.labels[i], nil
}

// CalculateNormalizingScaleFactor returns the population standard deviation
// of every dx and dy value pooled together.
func (l *Loader) CalculateNormalizingScaleFactor() (float64, error) {
	var data []float64
	for _, s := range l.strokes {
		if len(s) > l.cfg.MaxSeqLength {
			continue
		}
		for _, p := range s {
			data = append(data, float64(p.DX), float64(p.DY))
		}
	}
	if len(data) == 0 {
		return 0, ErrEmptyData
	}
	return stat.PopStdDev(data, nil), nil
}

// Normalize divides every dx and dy by factor and records it as the
// loader's scale factor. A factor of 0 means "compute it from this split",
// which is only meant for the training split; a negative factor is an
// error. Normalize runs once per loader; further calls return
// ErrAlreadyNormalized.
func (l *Loader) Normalize(factor float64) error {
	if l.normalized {
		return ErrAlreadyNormalized
	}
	if factor < 0 {
		return fmt.Errorf("%w: negative factor %g", ErrZeroScale, factor)
	}
	if factor == 0 {
		f, err := l.CalculateNormalizingScaleFactor()
		if err != nil {
			return err
		}
		factor = f
	}
	if factor == 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: %g", ErrZeroScale, factor)
	}
	div := float32(factor)
	for _, s := range l.strokes {
		for j := range s {
			s[j].DX /= div
			s[j].DY /= div
		}
	}
	l.scaleFactor = factor
	l.normalized = true
	return nil
}

// RandomBatch returns BatchSize distinct sequences drawn uniformly from the
// whole split.
func (l *Loader) RandomBatch() (*Batch, error) {
	if len(l.strokes) < l.cfg.BatchSize {
		return nil, fmt.Errorf("%w: have %d, batch size %d", ErrNotEnoughData, len(l.strokes), l.cfg.BatchSize)
	}
	idx := l.cfg.SampleRand.Perm(len(l.strokes))[:l.cfg.BatchSize]
	return l.batchFromIndices(idx)
}

// GetBatch returns the idx'th contiguous batch, sequences
// [idx*BatchSize, (idx+1)*BatchSize).
func (l *Loader) GetBatch(idx int) (*Batch, error) {
	if idx < 0 || idx >= l.numBatches {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrBatchIndex, idx, l.numBatches)
	}
	start := idx * l.cfg.BatchSize
	indices := make([]int, l.cfg.BatchSize)
	for i := range indices {
		indices[i] = start + i
	}
	return l.batchFromIndices(indices)
}

// batchFromIndices copies, optionally stretches and augments the selected
// sequences and pads them into stroke-5.
func (l *Loader) batchFromIndices(indices []int) (*Batch, error) {
	b := &Batch{
		Indices: make([]int, len(indices)),
		Strokes: make([]stroke.Sequence, len(indices)),
		Labels:  make([]int, len(indices)),
		Lengths: make([]int, len(indices)),
	}
	for bi, i := range indices {
		data := l.randomScale(l.strokes[i])
		if l.cfg.AugmentStrokeProb > 0 {
			data = stroke.Augment(data, l.cfg.AugmentStrokeProb, l.cfg.AugmentRand)
		}
		b.Indices[bi] = i
		b.Strokes[bi] = data
		b.Labels[bi] = l.labels[i]
		b.Lengths[bi] = len(data)
	}
	padded, err := stroke.PadBatch(b.Strokes, l.cfg.MaxSeqLength)
	if err != nil {
		return nil, err
	}
	b.Stroke5 = padded
	return b, nil
}

// randomScale returns a copy of s with x and y stretched by independent
// factors in [1-r, 1+r].
func (l *Loader) randomScale(s stroke.Sequence) stroke.Sequence {
	out := s.Clone()
	r := l.cfg.RandomScaleFactor
	if r == 0 {
		return out
	}
	xScale := float32((l.cfg.ScaleRand.Float64()-0.5)*2*r + 1.0)
	yScale := float32((l.cfg.ScaleRand.Float64()-0.5)*2*r + 1.0)
	for j := range out {
		out[j].DX *= xScale
		out[j].DY *= yScale
	}
	return out
}
