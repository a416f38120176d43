// Package datasets turns raw stroke-3 sketch collections into batches a
// sketch model can consume.
//
// Layout and intended usage:
//
// Source
//   - Reads one named archive holding train/valid/test arrays of stroke-3
//     sequences (JSON, gob snapshot, or the sqlite store).
//
// LoadDataset
//   - Reads every named source, concatenates them in order, tags each sketch
//     with the 0-based index of its source, computes the global maximum
//     sequence length and builds one Loader per split.
//   - The normalizing scale factor is computed on the training split only
//     and applied unchanged to the validation and test splits.
//
// Loader
//   - Drops sequences longer than the maximum, clamps offsets, sorts by
//     length, and serves random (training) or paged (evaluation) batches.
//   - Every batch carries four parallel artifacts: the stroke-3 sequences,
//     their labels, the padded stroke-5 tensor and the true lengths.
//
// Batches convert into gomlx tensors with Batch.ToGomlxTensors, and Yielder
// adapts a Loader to gomlx's train.Dataset.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Dataset is what a training loop needs from one split.
type Dataset interface {
	Len() int
	NumBatches() int
	RandomBatch() (*Batch, error)
	GetBatch(idx int) (*Batch, error)
}

// TensorDataset is implemented by Yielder to interact with gomlx training
// loops.
type TensorDataset interface {
	Name() string
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Reset()
}

var (
	_ Dataset       = (*Loader)(nil)
	_ TensorDataset = (*Yielder)(nil)
)
