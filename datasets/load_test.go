package datasets

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/sketchrnn/stroke"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeJSON writes a dataset file with the given raw content to path.
func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// staticSource serves fixed splits, or a fixed error.
type staticSource struct {
	name string
	raw  *RawSplits
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Load(ctx context.Context) (*RawSplits, error) {
	return s.raw, s.err
}

func TestLoadDataset_ConcatenatesAndLabels(t *testing.T) {
	cats := staticSource{name: "cat.json", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(3, 2, 0), makeSeq(4, -2, 0)},
		Valid: []stroke.Sequence{makeSeq(2, 2, 0)},
		Test:  []stroke.Sequence{makeSeq(2, -2, 0)},
	}}
	dogs := staticSource{name: "dog.json", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 0, 2), makeSeq(5, 0, -2)},
		Valid: []stroke.Sequence{makeSeq(9, 0, 2)},
		Test:  []stroke.Sequence{},
	}}

	hp := DefaultHparams()
	hp.BatchSize = 2
	hp.MaxSeqLen = 3 // overwritten by the global maximum
	splits, err := LoadDataset(context.Background(), []Source{cats, dogs}, hp, LoadOptions{Seed: 1})
	require.NoError(t, err)

	assert.Equal(t, 9, splits.MaxSeqLen(), "global max length comes from valid")
	assert.Equal(t, 9, splits.Train.MaxSeqLength())
	assert.Equal(t, 9, splits.Valid.MaxSeqLength())
	assert.Equal(t, 4, splits.Train.Len())
	assert.Equal(t, 2, splits.Valid.Len())
	assert.Equal(t, 1, splits.Test.Len())
	// Sorted by length: 2 (dog), 3 (cat), 4 (cat), 5 (dog).
	assert.Equal(t, []int{1, 0, 0, 1}, splits.Train.Labels())
	assert.Equal(t, []string{"cat.json", "dog.json"}, splits.Names)

	// Train pools 28 values: 14 of magnitude 2 summing to -8, and 14 zeros.
	mean := -8.0 / 28
	wantFactor := math.Sqrt(56.0/28 - mean*mean)
	assert.InDelta(t, wantFactor, splits.ScaleFactor, 1e-6)
	for _, l := range []*Loader{splits.Train, splits.Valid, splits.Test} {
		assert.Equal(t, splits.ScaleFactor, l.ScaleFactor(), "split not normalized with the training factor")
		assert.True(t, l.Normalized())
	}
	s, _, _ := splits.Valid.Example(0)
	assert.InDelta(t, 2/wantFactor, float64(s[0].DX), 1e-5, "valid split not scaled by the training factor")

	assert.Zero(t, splits.EvalHparams.RandomScaleFactor, "eval hparams must disable augmentation")
	assert.Zero(t, splits.EvalHparams.AugmentStrokeProb, "eval hparams must disable augmentation")
	assert.Equal(t, 2, splits.EvalHparams.BatchSize)
	assert.Equal(t, 1, splits.SampleHparams.BatchSize)
	assert.Equal(t, 1, splits.SampleHparams.MaxSeqLen)
}

func TestLoadDataset_ScaleFactorOverride(t *testing.T) {
	src := staticSource{name: "a", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 4, 4)},
		Valid: []stroke.Sequence{makeSeq(2, 4, 4)},
		Test:  []stroke.Sequence{makeSeq(2, 4, 4)},
	}}
	splits, err := LoadDataset(context.Background(), []Source{src}, DefaultHparams(),
		LoadOptions{ScaleFactor: 4, InferenceMode: true, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 4.0, splits.ScaleFactor)

	s, _, _ := splits.Test.Example(0)
	assert.Equal(t, float32(1), s[0].DX)
	assert.Equal(t, float32(1), s[0].DY)
	assert.Equal(t, 1, splits.EvalHparams.BatchSize, "inference mode evaluates one sketch at a time")
	assert.False(t, splits.EvalHparams.IsTraining)
	assert.Equal(t, 1, splits.Valid.NumBatches())
}

func TestLoadDataset_NegativeScaleFactor(t *testing.T) {
	src := staticSource{name: "a", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 4, 4)},
		Valid: []stroke.Sequence{},
		Test:  []stroke.Sequence{},
	}}
	_, err := LoadDataset(context.Background(), []Source{src}, DefaultHparams(), LoadOptions{ScaleFactor: -2})
	assert.ErrorIs(t, err, ErrZeroScale)
}

func TestLoadDataset_Failures(t *testing.T) {
	good := staticSource{name: "good", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 1, 1)},
		Valid: []stroke.Sequence{},
		Test:  []stroke.Sequence{},
	}}
	missing := staticSource{name: "missing", raw: &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 1, 1)},
		Test:  []stroke.Sequence{},
	}}
	broken := staticSource{name: "broken", err: errors.New("boom")}

	_, err := LoadDataset(context.Background(), nil, DefaultHparams(), LoadOptions{})
	assert.Error(t, err, "no sources")
	_, err = LoadDataset(context.Background(), []Source{good, missing}, DefaultHparams(), LoadOptions{})
	assert.ErrorIs(t, err, ErrMissingSplit)
	_, err = LoadDataset(context.Background(), []Source{broken, good}, DefaultHparams(), LoadOptions{})
	assert.Error(t, err, "broken source")
}

func TestLoadDataset_FromFiles(t *testing.T) {
	tmp := t.TempDir()
	writeJSON(t, filepath.Join(tmp, "a.json"), `{
		"train": [[[1, 0, 0], [-1, 0, 1]], [[2, 0, 0], [0, 2, 0], [1, 1, 1]]],
		"valid": [[[1, 1, 1]]],
		"test":  []
	}`)
	raw := &RawSplits{
		Train: []stroke.Sequence{makeSeq(2, 0, 1)},
		Valid: []stroke.Sequence{},
		Test:  []stroke.Sequence{makeSeq(4, 1, 0)},
	}
	require.NoError(t, WriteGob(filepath.Join(tmp, "b.gob"), "b", raw))

	names, err := FindSourcesIn(tmp)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.gob"}, names)

	sources, err := ResolveAll(tmp, names)
	require.NoError(t, err)
	hp := DefaultHparams()
	hp.BatchSize = 1
	splits, err := LoadDataset(context.Background(), sources, hp, LoadOptions{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, splits.Train.Len())
	assert.Equal(t, 1, splits.Valid.Len())
	assert.Equal(t, 1, splits.Test.Len())
	assert.Equal(t, 4, splits.MaxSeqLen())
	assert.Equal(t, []int{1}, splits.Test.Labels())
}
