package datasets

import (
	"fmt"
	"io"

	"github.com/Noofbiz/sketchrnn/stroke"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is one assembled batch. All slices are parallel and have one entry
// per sketch.
type Batch struct {
	// Indices are the positions of the sketches inside the loader.
	Indices []int

	// Strokes are the (possibly stretched and augmented) stroke-3 sequences
	// before padding.
	Strokes []stroke.Sequence

	// Labels hold the source index of every sketch.
	Labels []int

	// Stroke5 is the padded (len, MaxSeqLength+1, 5) model input.
	Stroke5 *stroke.Batch5

	// Lengths are the true sequence lengths.
	Lengths []int
}

// Len returns the number of sketches in the batch.
func (b *Batch) Len() int { return len(b.Labels) }

// ToGomlxTensors converts the batch to gomlx tensors. inputs holds the
// stroke-5 tensor (float32, [batch, time, 5]) and the lengths (int32,
// [batch]); labels is int32 [batch].
func (b *Batch) ToGomlxTensors() (inputs []*tensors.Tensor, labels *tensors.Tensor, err error) {
	if b.Stroke5 == nil {
		return nil, nil, fmt.Errorf("batch has no stroke-5 tensor")
	}
	x, err := b.Stroke5.ToGomlxTensor()
	if err != nil {
		return nil, nil, err
	}
	lengths := make([]int32, len(b.Lengths))
	for i, v := range b.Lengths {
		lengths[i] = int32(v)
	}
	labs := make([]int32, len(b.Labels))
	for i, v := range b.Labels {
		labs[i] = int32(v)
	}
	inputs = []*tensors.Tensor{x, tensors.FromAnyValue(lengths)}
	return inputs, tensors.FromAnyValue(labs), nil
}

// Yielder adapts a Loader to gomlx's train.Dataset. A random yielder never
// ends; a sequential one walks GetBatch(0..NumBatches-1) and then returns
// io.EOF until Reset.
type Yielder struct {
	name       string
	loader     *Loader
	sequential bool
	next       int
}

// NewYielder wraps l. Use sequential for evaluation passes.
func NewYielder(name string, l *Loader, sequential bool) *Yielder {
	return &Yielder{name: name, loader: l, sequential: sequential}
}

// Name returns the name of the dataset.
func (y *Yielder) Name() string { return y.name }

// Reset restarts a sequential pass.
func (y *Yielder) Reset() { y.next = 0 }

// Yield returns the next batch as gomlx tensors.
func (y *Yielder) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	var b *Batch
	if y.sequential {
		if y.next >= y.loader.NumBatches() {
			return nil, nil, nil, io.EOF
		}
		b, err = y.loader.GetBatch(y.next)
		y.next++
	} else {
		b, err = y.loader.RandomBatch()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	in, la, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, in, []*tensors.Tensor{la}, nil
}
