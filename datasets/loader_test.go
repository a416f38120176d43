package datasets

import (
	"math"
	"testing"

	"github.com/Noofbiz/sketchrnn/stroke"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeSeq returns n pen-down points with offsets (dx, dy), the last one
// lifting the pen.
func makeSeq(n int, dx, dy float32) stroke.Sequence {
	s := make(stroke.Sequence, n)
	for i := range s {
		s[i] = stroke.Point{DX: dx, DY: dy}
	}
	if n > 0 {
		s[n-1].Lift = 1
	}
	return s
}

func seededConfig(cfg LoaderConfig, seed int64) LoaderConfig {
	cfg.Seed(seed)
	return cfg
}

// TestLoader_FilterAndSort covers the [5, 2, 8, 3] scenario: the length-8
// sketch is dropped, the rest are sorted and the labels follow.
func TestLoader_FilterAndSort(t *testing.T) {
	strokes := []stroke.Sequence{makeSeq(5, 1, 1), makeSeq(2, 1, 1), makeSeq(8, 1, 1), makeSeq(3, 1, 1)}
	labels := []int{0, 1, 2, 3}

	l, err := NewLoader(strokes, labels, seededConfig(LoaderConfig{BatchSize: 3, MaxSeqLength: 6}, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 1, l.NumBatches())

	var lengths []int
	for i := range l.Len() {
		s, _, err := l.Example(i)
		require.NoError(t, err)
		lengths = append(lengths, len(s))
	}
	assert.Equal(t, []int{2, 3, 5}, lengths)
	assert.Equal(t, []int{1, 3, 0}, l.Labels(), "labels not permuted with sequences")
	assert.Len(t, strokes[1], 2, "input strokes were modified")
	assert.Equal(t, float32(1), strokes[2][0].DX, "input strokes were modified")
}

func TestLoader_StableSortKeepsInputOrderForTies(t *testing.T) {
	strokes := []stroke.Sequence{makeSeq(3, 1, 0), makeSeq(2, 1, 0), makeSeq(3, 2, 0), makeSeq(2, 2, 0)}
	l, err := NewLoader(strokes, []int{0, 1, 2, 3}, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0, 2}, l.Labels())
}

func TestLoader_ClampAndScale(t *testing.T) {
	strokes := []stroke.Sequence{{
		{DX: 5000, DY: -3000},
		{DX: 10, DY: -10, Lift: 1},
	}}
	l, err := NewLoader(strokes, []int{0}, seededConfig(LoaderConfig{BatchSize: 1, Limit: 1000, ScaleFactor: 2}, 1))
	require.NoError(t, err)

	s, _, err := l.Example(0)
	require.NoError(t, err)
	assert.Equal(t, stroke.Sequence{{DX: 500, DY: -500}, {DX: 5, DY: -5, Lift: 1}}, s)
	assert.Equal(t, 2.0, l.ScaleFactor())
}

func TestLoader_RetainedWithinLimits(t *testing.T) {
	var strokes []stroke.Sequence
	var labels []int
	for i := range 40 {
		s := makeSeq(1+i%9, float32(i*97-1800), float32(2000-i*113))
		strokes = append(strokes, s)
		labels = append(labels, i%4)
	}
	const limit = 500
	l, err := NewLoader(strokes, labels, seededConfig(LoaderConfig{BatchSize: 4, MaxSeqLength: 6, Limit: limit}, 1))
	require.NoError(t, err)

	prev := 0
	for i := range l.Len() {
		s, _, _ := l.Example(i)
		require.LessOrEqual(t, len(s), 6, "sequence %d longer than max", i)
		require.GreaterOrEqual(t, len(s), prev, "sequence %d breaks length order", i)
		prev = len(s)
		for _, p := range s {
			require.LessOrEqual(t, math.Abs(float64(p.DX)), float64(limit), "point outside limit: %+v", p)
			require.LessOrEqual(t, math.Abs(float64(p.DY)), float64(limit), "point outside limit: %+v", p)
		}
	}
}

func TestLoader_TooFewForABatch(t *testing.T) {
	l, err := NewLoader([]stroke.Sequence{makeSeq(3, 1, 1), makeSeq(9, 1, 1)}, []int{0, 0},
		seededConfig(LoaderConfig{BatchSize: 2, MaxSeqLength: 4}, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, l.NumBatches())

	_, err = l.GetBatch(0)
	assert.ErrorIs(t, err, ErrBatchIndex)
	_, err = l.RandomBatch()
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

// TestLoader_MaxSeqLengthDefault pins the zero value to the default length
// and shows that filtering everything out needs a positive maximum below
// every sketch length.
func TestLoader_MaxSeqLengthDefault(t *testing.T) {
	strokes := []stroke.Sequence{makeSeq(3, 1, 1)}

	l, err := NewLoader(strokes, []int{0}, seededConfig(LoaderConfig{BatchSize: 1, MaxSeqLength: 0}, 1))
	require.NoError(t, err)
	assert.Equal(t, 250, l.MaxSeqLength())
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.NumBatches())

	none, err := NewLoader(strokes, []int{0}, seededConfig(LoaderConfig{BatchSize: 1, MaxSeqLength: 2}, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())
	assert.Equal(t, 0, none.NumBatches())

	_, err = NewLoader(strokes, []int{0}, LoaderConfig{BatchSize: 1, MaxSeqLength: -1})
	assert.Error(t, err)
}

func TestLoader_ConfigValidation(t *testing.T) {
	bad := []LoaderConfig{
		{BatchSize: -1},
		{AugmentStrokeProb: 1.5},
		{RandomScaleFactor: -0.1},
		{Limit: -1},
		{MaxSeqLength: -5},
	}
	for i, cfg := range bad {
		_, err := NewLoader(nil, nil, cfg)
		assert.Error(t, err, "case %d", i)
	}
	_, err := NewLoader([]stroke.Sequence{makeSeq(1, 0, 0)}, nil, LoaderConfig{})
	assert.Error(t, err, "mismatched labels")
}

func TestLoader_NormalizingScaleFactor(t *testing.T) {
	// dx, dy alternate between +3 and -3: mean 0, standard deviation 3.
	strokes := []stroke.Sequence{
		{{DX: 3, DY: -3}, {DX: -3, DY: 3, Lift: 1}},
		{{DX: -3, DY: 3}, {DX: 3, DY: -3, Lift: 1}},
	}
	l, err := NewLoader(strokes, []int{0, 1}, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)

	f, err := l.CalculateNormalizingScaleFactor()
	require.NoError(t, err)
	assert.InDelta(t, 3, f, 1e-9)

	require.NoError(t, l.Normalize(0))
	assert.Equal(t, f, l.ScaleFactor())
	assert.True(t, l.Normalized())
	for i := range l.Len() {
		s, _, _ := l.Example(i)
		for _, p := range s {
			assert.InDelta(t, 1, math.Abs(float64(p.DX)), 1e-6)
			assert.InDelta(t, 1, math.Abs(float64(p.DY)), 1e-6)
			assert.Contains(t, []float32{0, 1}, p.Lift, "pen state changed")
		}
	}

	assert.ErrorIs(t, l.Normalize(5), ErrAlreadyNormalized)
}

func TestLoader_NormalizeWithGivenFactor(t *testing.T) {
	strokes := []stroke.Sequence{{{DX: 5, DY: -2.5}, {DX: 1, DY: 10, Lift: 1}}}
	l, err := NewLoader(strokes, []int{0}, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)
	require.NoError(t, l.Normalize(2.5))

	s, _, _ := l.Example(0)
	assert.Equal(t, stroke.Sequence{{DX: 2, DY: -1}, {DX: 0.4, DY: 4, Lift: 1}}, s)
}

func TestLoader_NormalizeErrors(t *testing.T) {
	empty, err := NewLoader(nil, nil, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, empty.Normalize(0), ErrEmptyData)

	still, err := NewLoader([]stroke.Sequence{makeSeq(3, 0, 0)}, []int{0}, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, still.Normalize(0), ErrZeroScale)
	assert.False(t, still.Normalized(), "failed Normalize must not freeze the loader")
}

func TestLoader_NormalizeRejectsNegativeFactor(t *testing.T) {
	strokes := []stroke.Sequence{{{DX: 4, DY: -2}, {DX: 2, DY: 6, Lift: 1}}}
	l, err := NewLoader(strokes, []int{0}, seededConfig(LoaderConfig{BatchSize: 1}, 1))
	require.NoError(t, err)

	for _, f := range []float64{-1, -0.5, math.Inf(-1)} {
		assert.ErrorIs(t, l.Normalize(f), ErrZeroScale, "factor %g", f)
	}
	assert.False(t, l.Normalized())
	s, _, _ := l.Example(0)
	assert.Equal(t, strokes[0], s, "a rejected factor must leave the data untouched")

	require.NoError(t, l.Normalize(2))
	s, _, _ = l.Example(0)
	assert.Equal(t, stroke.Sequence{{DX: 2, DY: -1}, {DX: 1, DY: 3, Lift: 1}}, s)
}

func TestLoader_GetBatchPaging(t *testing.T) {
	var strokes []stroke.Sequence
	var labels []int
	for i := range 5 {
		strokes = append(strokes, makeSeq(i+1, float32(i), 1))
		labels = append(labels, i)
	}
	l, err := NewLoader(strokes, labels, seededConfig(LoaderConfig{BatchSize: 2, MaxSeqLength: 5}, 1))
	require.NoError(t, err)
	require.Equal(t, 2, l.NumBatches())

	seen := map[int]bool{}
	for idx := range l.NumBatches() {
		b, err := l.GetBatch(idx)
		require.NoError(t, err)
		require.Equal(t, 2, b.Len())
		require.Len(t, b.Strokes, 2)
		require.Len(t, b.Lengths, 2)
		assert.Equal(t, 2, b.Stroke5.Batch)
		assert.Equal(t, 6, b.Stroke5.Time)
		for i, ix := range b.Indices {
			require.False(t, seen[ix], "index %d visited twice", ix)
			require.Less(t, ix, l.NumBatches()*l.BatchSize(), "index beyond the last full batch")
			seen[ix] = true
			assert.Equal(t, len(b.Strokes[i]), b.Lengths[i])
		}
	}
	for _, idx := range []int{-1, 2} {
		_, err := l.GetBatch(idx)
		assert.ErrorIs(t, err, ErrBatchIndex, "GetBatch(%d)", idx)
	}

	first, _ := l.GetBatch(1)
	again, _ := l.GetBatch(1)
	assert.Equal(t, first, again, "GetBatch is not deterministic")
}

func TestLoader_RandomBatch(t *testing.T) {
	var strokes []stroke.Sequence
	var labels []int
	for i := range 20 {
		strokes = append(strokes, makeSeq(1+i%7, 1, -1))
		labels = append(labels, i%3)
	}
	cfg := LoaderConfig{BatchSize: 8, MaxSeqLength: 10}

	a, err := NewLoader(strokes, labels, seededConfig(cfg, 42))
	require.NoError(t, err)
	b, err := NewLoader(strokes, labels, seededConfig(cfg, 42))
	require.NoError(t, err)

	for range 5 {
		ba, err := a.RandomBatch()
		require.NoError(t, err)
		bb, err := b.RandomBatch()
		require.NoError(t, err)
		require.Equal(t, ba.Indices, bb.Indices, "same seed gave different batches")
		require.Len(t, ba.Indices, 8)

		seen := map[int]bool{}
		for i, ix := range ba.Indices {
			require.True(t, ix >= 0 && ix < a.Len() && !seen[ix], "bad or repeated index %d in %v", ix, ba.Indices)
			seen[ix] = true
			assert.Equal(t, a.Labels()[ix], ba.Labels[i])
		}
	}
}

func TestLoader_AugmentationWorksOnCopies(t *testing.T) {
	var strokes []stroke.Sequence
	for i := range 6 {
		strokes = append(strokes, makeSeq(10+i, 2, 3))
	}
	labels := make([]int, len(strokes))
	cfg := LoaderConfig{BatchSize: 3, MaxSeqLength: 20, RandomScaleFactor: 0.5, AugmentStrokeProb: 1}
	l, err := NewLoader(strokes, labels, seededConfig(cfg, 9))
	require.NoError(t, err)

	before := make([]stroke.Sequence, l.Len())
	for i := range before {
		before[i], _, _ = l.Example(i)
	}

	for range 4 {
		b, err := l.RandomBatch()
		require.NoError(t, err)
		for i, s := range b.Strokes {
			assert.Less(t, len(s), len(before[b.Indices[i]]), "augmentation should shorten sequence %d", b.Indices[i])
			assert.Equal(t, len(s), b.Lengths[i])
		}
	}
	for i := range before {
		after, _, _ := l.Example(i)
		assert.Equal(t, before[i], after, "stored sequence %d was mutated", i)
	}
}

func TestLoader_RandomScaleRange(t *testing.T) {
	strokes := []stroke.Sequence{makeSeq(4, 1, 1), makeSeq(4, 1, 1)}
	cfg := LoaderConfig{BatchSize: 2, MaxSeqLength: 4, RandomScaleFactor: 0.2}
	l, err := NewLoader(strokes, []int{0, 0}, seededConfig(cfg, 5))
	require.NoError(t, err)

	for range 20 {
		b, err := l.RandomBatch()
		require.NoError(t, err)
		for _, s := range b.Strokes {
			for _, p := range s {
				require.InDelta(t, 1, p.DX, 0.2+1e-6, "stretched point outside [0.8, 1.2]: %+v", p)
				require.InDelta(t, 1, p.DY, 0.2+1e-6, "stretched point outside [0.8, 1.2]: %+v", p)
			}
		}
	}
}
