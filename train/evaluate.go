package train

import (
	"fmt"
	"log"

	"github.com/Noofbiz/sketchrnn/datasets"
	"gonum.org/v1/gonum/floats"
)

// Result is the outcome of evaluating a model over one split.
type Result struct {
	// Cost is the mean batch cost. 0 when no batch was evaluated.
	Cost float64

	// Preds holds one score vector per evaluated example, in batch order.
	Preds [][]float64

	// Labels are the true labels of the evaluated examples.
	Labels []int

	// Correct counts examples whose highest score is at their label.
	Correct int

	// Accuracy is the percentage of correct examples, 100 * Correct /
	// len(Labels), or 0 when nothing was evaluated.
	Accuracy float64

	// Batches is the number of evaluated batches.
	Batches int
}

// Evaluate runs m over every full batch of d, in order. Sequences past the
// last full batch are not evaluated.
func Evaluate(m Model, d datasets.Dataset) (*Result, error) {
	res := &Result{Batches: d.NumBatches()}
	if res.Batches == 0 {
		log.Printf("evaluate: no full batch in %d sequences", d.Len())
		return res, nil
	}

	costs := make([]float64, 0, res.Batches)
	for i := 0; i < res.Batches; i++ {
		b, err := d.GetBatch(i)
		if err != nil {
			return nil, err
		}
		cost, preds, err := m.Evaluate(b)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if len(preds) != b.Len() {
			return nil, fmt.Errorf("batch %d: model returned %d predictions for %d examples", i, len(preds), b.Len())
		}
		costs = append(costs, cost)
		res.Preds = append(res.Preds, preds...)
		res.Labels = append(res.Labels, b.Labels...)
	}

	res.Cost = floats.Sum(costs) / float64(len(costs))
	for i, p := range res.Preds {
		if len(p) > 0 && floats.MaxIdx(p) == res.Labels[i] {
			res.Correct++
		}
	}
	res.Accuracy = float64(res.Correct) * 100 / float64(len(res.Labels))
	return res, nil
}
