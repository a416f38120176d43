// Package train runs the sketch training loop: it draws random batches from
// the training split, decays the learning rate, and periodically evaluates
// the validation split, checkpointing and evaluating the test split whenever
// the validation cost improves.
package train

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/Noofbiz/sketchrnn/datasets"
)

// Model is the boundary between the data pipeline and a trainable model.
type Model interface {
	// Train runs one optimization step on b with learning rate lr and
	// returns the batch cost.
	Train(b *datasets.Batch, lr float64) (float64, error)

	// Evaluate returns the batch cost and one score vector per example
	// without updating the model.
	Evaluate(b *datasets.Batch) (cost float64, preds [][]float64, err error)
}

// Checkpointer persists the model. Save is called with the step at which a
// new best validation cost was reached.
type Checkpointer interface {
	Save(step int) error
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(step int) error

// Save calls f(step).
func (f CheckpointFunc) Save(step int) error { return f(step) }

// Metric names recorded by Trainer.
const (
	MetricTrainCost     = "train_cost"
	MetricLearningRate  = "learning_rate"
	MetricTimeTrain     = "time_taken_train"
	MetricValidCost     = "valid_cost"
	MetricValidCorrect  = "valid_correct"
	MetricTimeValid     = "time_taken_valid"
	MetricBestValidCost = "best_valid_cost"
	MetricEvalCost      = "eval_cost"
	MetricAccuracy      = "accuracy"
	MetricTimeEval      = "time_taken_eval"
)

// Config holds the training loop parameters.
type Config struct {
	// NumSteps is the total number of training steps. Default 10000000.
	NumSteps int `json:"num_steps"`

	// SaveEvery is the validation interval in steps. Default 500.
	SaveEvery int `json:"save_every"`

	// LogEvery is the training log interval in steps. Default 20.
	LogEvery int `json:"log_every"`

	// LearningRate is the initial rate. Default 0.001.
	LearningRate float64 `json:"learning_rate"`

	// MinLearningRate is the floor the rate decays towards. Default 0.00001.
	MinLearningRate float64 `json:"min_learning_rate"`

	// DecayRate is the per-step multiplicative decay. Default 0.9999.
	DecayRate float64 `json:"decay_rate"`
}

// DefaultConfig returns the default training parameters.
func DefaultConfig() Config {
	var c Config
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.NumSteps == 0 {
		c.NumSteps = 10000000
	}
	if c.SaveEvery == 0 {
		c.SaveEvery = 500
	}
	if c.LogEvery == 0 {
		c.LogEvery = 20
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.MinLearningRate == 0 {
		c.MinLearningRate = 0.00001
	}
	if c.DecayRate == 0 {
		c.DecayRate = 0.9999
	}
}

func (c Config) validate() error {
	switch {
	case c.NumSteps < 0:
		return fmt.Errorf("num steps must be >= 0, got %d", c.NumSteps)
	case c.SaveEvery < 0 || c.LogEvery < 0:
		return fmt.Errorf("save/log intervals must be > 0, got %d/%d", c.SaveEvery, c.LogEvery)
	case c.MinLearningRate > c.LearningRate:
		return fmt.Errorf("min learning rate %g above learning rate %g", c.MinLearningRate, c.LearningRate)
	case c.DecayRate <= 0 || c.DecayRate > 1:
		return fmt.Errorf("decay rate must be in (0, 1], got %g", c.DecayRate)
	}
	return nil
}

// LearningRate returns the decayed learning rate at step.
func LearningRate(cfg Config, step int) float64 {
	return (cfg.LearningRate-cfg.MinLearningRate)*math.Pow(cfg.DecayRate, float64(step)) + cfg.MinLearningRate
}

// Trainer wires a model to the three splits.
type Trainer struct {
	Model  Model
	Config Config

	Train datasets.Dataset
	Valid datasets.Dataset
	Test  datasets.Dataset

	// Sink receives every recorded metric. Nil discards them.
	Sink MetricsSink

	// Checkpoint is called on every new best validation cost. May be nil.
	Checkpoint Checkpointer
}

// Summary describes a finished run.
type Summary struct {
	Steps         int
	BestValidCost float64
	BestStep      int
	Test          *Result
}

// Run trains for Config.NumSteps steps or until ctx is done.
func (t *Trainer) Run(ctx context.Context) (*Summary, error) {
	if t.Model == nil {
		return nil, errors.New("trainer has no model")
	}
	if t.Train == nil || t.Valid == nil || t.Test == nil {
		return nil, errors.New("trainer needs train, valid and test splits")
	}
	cfg := t.Config
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sink := t.Sink
	if sink == nil {
		sink = Discard
	}

	sum := &Summary{BestValidCost: math.Inf(1), BestStep: -1}
	start := time.Now()
	for step := 0; step < cfg.NumSteps; step++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		lr := LearningRate(cfg, step)
		b, err := t.Train.RandomBatch()
		if err != nil {
			return sum, fmt.Errorf("step %d: %w", step, err)
		}
		cost, err := t.Model.Train(b, lr)
		if err != nil {
			return sum, fmt.Errorf("step %d: train: %w", step, err)
		}
		sum.Steps = step + 1

		if step > 0 && step%cfg.LogEvery == 0 {
			elapsed := time.Since(start).Seconds()
			log.Printf("step: %d, lr: %.6f, cost: %.4f, train_time_taken: %.4f", step, lr, cost, elapsed)
			if err := recordAll(sink, step,
				metric{MetricTrainCost, cost},
				metric{MetricLearningRate, lr},
				metric{MetricTimeTrain, elapsed},
			); err != nil {
				return sum, err
			}
			start = time.Now()
		}

		if step > 0 && step%cfg.SaveEvery == 0 {
			if err := t.validate(step, sink, sum); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

// validate evaluates the validation split and, on improvement, checkpoints
// and evaluates the test split.
func (t *Trainer) validate(step int, sink MetricsSink, sum *Summary) error {
	start := time.Now()
	valid, err := Evaluate(t.Model, t.Valid)
	if err != nil {
		return fmt.Errorf("step %d: valid: %w", step, err)
	}
	elapsed := time.Since(start).Seconds()
	log.Printf("best_valid_cost: %.4f, valid_cost: %.4f, valid_correct: %d/%d, valid_time_taken: %.4f",
		math.Min(sum.BestValidCost, valid.Cost), valid.Cost, valid.Correct, len(valid.Labels), elapsed)
	if err := recordAll(sink, step,
		metric{MetricValidCost, valid.Cost},
		metric{MetricValidCorrect, float64(valid.Correct)},
		metric{MetricTimeValid, elapsed},
	); err != nil {
		return err
	}

	if valid.Cost >= sum.BestValidCost {
		return nil
	}
	sum.BestValidCost = valid.Cost
	sum.BestStep = step
	if err := sink.Record(step, MetricBestValidCost, valid.Cost); err != nil {
		return err
	}

	if t.Checkpoint != nil {
		start = time.Now()
		if err := t.Checkpoint.Save(step); err != nil {
			return fmt.Errorf("step %d: checkpoint: %w", step, err)
		}
		log.Printf("time_taken_save %4.4f.", time.Since(start).Seconds())
	}

	start = time.Now()
	test, err := Evaluate(t.Model, t.Test)
	if err != nil {
		return fmt.Errorf("step %d: test: %w", step, err)
	}
	elapsed = time.Since(start).Seconds()
	log.Printf("best_valid_cost: %.4f, eval_cost: %.4f, accuracy: %.2f%%, eval_time_taken: %.4f",
		sum.BestValidCost, test.Cost, test.Accuracy, elapsed)
	sum.Test = test
	return recordAll(sink, step,
		metric{MetricEvalCost, test.Cost},
		metric{MetricAccuracy, test.Accuracy},
		metric{MetricTimeEval, elapsed},
	)
}

type metric struct {
	name  string
	value float64
}

func recordAll(sink MetricsSink, step int, metrics ...metric) error {
	for _, m := range metrics {
		if err := sink.Record(step, m.name, m.value); err != nil {
			return fmt.Errorf("step %d: record %s: %w", step, m.name, err)
		}
	}
	return nil
}
