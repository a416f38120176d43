package datasets

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Noofbiz/sketchrnn/stroke"
	"golang.org/x/sync/errgroup"
)

// Hparams are the hyper-parameters the data pipeline shares with the model.
type Hparams struct {
	BatchSize         int     `json:"batch_size"`
	MaxSeqLen         int     `json:"max_seq_len"`
	RandomScaleFactor float64 `json:"random_scale_factor"`
	AugmentStrokeProb float64 `json:"augment_stroke_prob"`
	IsTraining        bool    `json:"is_training"`
}

// DefaultHparams returns the training defaults.
func DefaultHparams() Hparams {
	return Hparams{
		BatchSize:         100,
		MaxSeqLen:         250,
		RandomScaleFactor: 0.15,
		AugmentStrokeProb: 0.10,
		IsTraining:        true,
	}
}

// LoadOptions tune LoadDataset beyond the hyper-parameters.
type LoadOptions struct {
	// InferenceMode evaluates one sketch at a time.
	InferenceMode bool

	// ScaleFactor, when > 0, replaces the normalizing factor computed on the
	// training split. 0 computes it; a negative value fails with ErrZeroScale.
	ScaleFactor float64

	// Limit clamps offsets before anything else. Default 1000.
	Limit float64

	// Seed drives every random generator. 0 uses the current time.
	Seed int64
}

// Splits is the result of LoadDataset.
type Splits struct {
	Train *Loader
	Valid *Loader
	Test  *Loader

	// Hparams is the training copy with MaxSeqLen set to the global maximum.
	Hparams Hparams
	// EvalHparams has augmentation disabled; batch size 1 in inference mode.
	EvalHparams Hparams
	// SampleHparams describes one-point-at-a-time sampling.
	SampleHparams Hparams

	// ScaleFactor is the normalizing factor applied to all three splits.
	ScaleFactor float64

	// Names of the sources, indexed by label.
	Names []string
}

// MaxSeqLen returns the global maximum sequence length.
func (s *Splits) MaxSeqLen() int { return s.Hparams.MaxSeqLen }

// LoadDataset reads every source (concurrently), concatenates them in the
// given order with label i for source i, computes the maximum sequence
// length over train, valid and test together, and builds the three loaders.
// The training split's normalizing factor is applied to all three.
//
// Any unreadable or malformed source fails the whole load.
func LoadDataset(ctx context.Context, sources []Source, hp Hparams, opts LoadOptions) (*Splits, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no dataset sources given")
	}

	raws := make([]*RawSplits, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			raw, err := src.Load(gctx)
			if err != nil {
				return fmt.Errorf("load %s: %w", src.Name(), err)
			}
			if err := raw.Validate(); err != nil {
				return fmt.Errorf("load %s: %w", src.Name(), err)
			}
			raws[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		trainStrokes, validStrokes, testStrokes []stroke.Sequence
		trainY, validY, testY                   []int
		names                                   = make([]string, len(sources))
	)
	for idx, raw := range raws {
		names[idx] = sources[idx].Name()
		log.Printf("Loaded %d/%d/%d from %s", len(raw.Train), len(raw.Valid), len(raw.Test), names[idx])
		trainStrokes = append(trainStrokes, raw.Train...)
		validStrokes = append(validStrokes, raw.Valid...)
		testStrokes = append(testStrokes, raw.Test...)
		trainY = appendLabel(trainY, idx, len(raw.Train))
		validY = appendLabel(validY, idx, len(raw.Valid))
		testY = appendLabel(testY, idx, len(raw.Test))
	}

	all := make([]stroke.Sequence, 0, len(trainStrokes)+len(validStrokes)+len(testStrokes))
	all = append(all, trainStrokes...)
	all = append(all, validStrokes...)
	all = append(all, testStrokes...)
	numPoints := 0
	for _, s := range all {
		numPoints += len(s)
	}
	avgLen := 0
	if len(all) > 0 {
		avgLen = numPoints / len(all)
	}
	log.Printf("Dataset combined: %d (%d/%d/%d), avg len %d",
		len(all), len(trainStrokes), len(validStrokes), len(testStrokes), avgLen)

	hp.MaxSeqLen = stroke.MaxLen(all)
	if hp.MaxSeqLen == 0 {
		return nil, fmt.Errorf("%w: sources hold no points", ErrEmptyData)
	}
	log.Printf("model_params.max_seq_len %d.", hp.MaxSeqLen)

	evalHp := hp
	evalHp.RandomScaleFactor = 0
	evalHp.AugmentStrokeProb = 0
	evalHp.IsTraining = true
	if opts.InferenceMode {
		evalHp.BatchSize = 1
		evalHp.IsTraining = false
	}
	sampleHp := evalHp
	sampleHp.BatchSize = 1
	sampleHp.MaxSeqLen = 1

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	newLoader := func(strokes []stroke.Sequence, labels []int, h Hparams, seed int64) (*Loader, error) {
		cfg := LoaderConfig{
			BatchSize:         h.BatchSize,
			MaxSeqLength:      h.MaxSeqLen,
			RandomScaleFactor: h.RandomScaleFactor,
			AugmentStrokeProb: h.AugmentStrokeProb,
			Limit:             opts.Limit,
		}
		cfg.Seed(seed)
		return NewLoader(strokes, labels, cfg)
	}

	trainSet, err := newLoader(trainStrokes, trainY, hp, seed)
	if err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	factor := opts.ScaleFactor
	if factor == 0 {
		factor, err = trainSet.CalculateNormalizingScaleFactor()
		if err != nil {
			return nil, fmt.Errorf("train split: %w", err)
		}
	}
	if err := trainSet.Normalize(factor); err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}

	validSet, err := newLoader(validStrokes, validY, evalHp, seed+10)
	if err != nil {
		return nil, fmt.Errorf("valid split: %w", err)
	}
	if err := validSet.Normalize(factor); err != nil {
		return nil, fmt.Errorf("valid split: %w", err)
	}

	testSet, err := newLoader(testStrokes, testY, evalHp, seed+20)
	if err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}
	if err := testSet.Normalize(factor); err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}

	log.Printf("normalizing_scale_factor %4.4f.", factor)

	return &Splits{
		Train:         trainSet,
		Valid:         validSet,
		Test:          testSet,
		Hparams:       hp,
		EvalHparams:   evalHp,
		SampleHparams: sampleHp,
		ScaleFactor:   factor,
		Names:         names,
	}, nil
}

func appendLabel(labels []int, label, n int) []int {
	for range n {
		labels = append(labels, label)
	}
	return labels
}
