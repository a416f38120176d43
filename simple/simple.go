package simple

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/Noofbiz/sketchrnn/datasets"
	"github.com/Noofbiz/sketchrnn/stroke"
	"gonum.org/v1/gonum/floats"
)

// FeatureDim is the length of the vector returned by Features.
const FeatureDim = 8

// Config holds configurable hyperparameters for the classifier.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{64, 32}
	// If empty, a single hidden layer of size 32 will be used.
	HiddenSizes []int

	// NumClasses is the number of labels (one per dataset source). Default 2.
	NumClasses int

	// Seed controls RNG for weight init. If zero, time-based seed is used.
	Seed int64

	// ClipNorm bounds the global L2 norm of each gradient update. Default 5.
	ClipNorm float32
}

// Model is a small MLP that classifies sketches by the dataset they came
// from, using pooled stroke-5 statistics as input. It is trained by the
// train package one batch at a time through Train and Evaluate.
type Model struct {
	// Config used for initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	rng *rand.Rand
}

// NewModel creates a new Model instance with the provided configuration.
// It initializes weights (small random values) and is ready to train.
func NewModel(cfg Config) (*Model, error) {
	// defaults
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{32}
	}
	if cfg.NumClasses == 0 {
		cfg.NumClasses = 2
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.ClipNorm == 0 {
		cfg.ClipNorm = 5
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", cfg.NumClasses)
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer sizes must be > 0, got %v", cfg.HiddenSizes)
		}
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, FeatureDim)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.NumClasses)
	m.layerSizes = sizes

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in := sizes[l]
		out := sizes[l+1]
		// Xavier/Glorot uniform initialization heuristic
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := 0; j < out; j++ {
			row := make([]float32, in)
			for i := 0; i < in; i++ {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}

	return m, nil
}

// Features pools example i of b into FeatureDim values: mean dx, mean dy,
// mean |dx|, mean |dy|, fraction of pen lifts, length relative to the padded
// length, and the width and height of the drawing.
func Features(b *datasets.Batch, i int) []float32 {
	out := make([]float32, FeatureDim)
	n := b.Lengths[i]
	if n == 0 || b.Stroke5 == nil {
		return out
	}
	dx := make([]float64, n)
	dy := make([]float64, n)
	lift := make([]float64, n)
	for t := 0; t < n; t++ {
		row := b.Stroke5.At(i, t+1)
		dx[t] = float64(row[0])
		dy[t] = float64(row[1])
		lift[t] = float64(row[3])
	}
	inv := 1 / float64(n)
	out[0] = float32(floats.Sum(dx) * inv)
	out[1] = float32(floats.Sum(dy) * inv)
	out[2] = float32(floats.Norm(dx, 1) * inv)
	out[3] = float32(floats.Norm(dy, 1) * inv)
	out[4] = float32(floats.Sum(lift) * inv)
	out[5] = float32(float64(n) / float64(b.Stroke5.Time-1))
	bounds := stroke.GetBounds(b.Strokes[i], 1)
	out[6] = float32(bounds.Width())
	out[7] = float32(bounds.Height())
	return out
}

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// activationReLUDeriv returns elementwise derivative of ReLU applied to preact.
func activationReLUDeriv(preact []float32) []float32 {
	d := make([]float32, len(preact))
	for i := range preact {
		if preact[i] > 0 {
			d[i] = 1.0
		}
	}
	return d
}

// softmax returns the class probabilities for logits.
func softmax(logits []float32) []float64 {
	p := make([]float64, len(logits))
	for i, v := range logits {
		p[i] = float64(v)
	}
	// logsumexp keeps large logits finite.
	lse := floats.LogSumExp(p)
	for i := range p {
		p[i] = math.Exp(p[i] - lse)
	}
	return p
}

// forwardSingle performs a forward pass for a single input vector, returning:
// - preActivations: list of pre-activation vectors per layer (len = L)
// - activations: list of activation vectors per layer (len = L+1, activations[0] = input)
// The last activation holds the logits.
func (m *Model) forwardSingle(input []float32) (preActs [][]float32, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, errors.New("input has incorrect dimension")
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = make([]float32, len(input))
	copy(acts[0], input)

	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		inVec := acts[l]
		outDim := len(m.biases[l])
		pre := make([]float32, outDim)
		W := m.weights[l]
		b := m.biases[l]
		for j := 0; j < outDim; j++ {
			sum := b[j]
			row := W[j]
			for i, v := range inVec {
				sum += row[i] * v
			}
			pre[j] = sum
		}
		preActs[l] = pre

		// Activation: ReLU for hidden, linear for last layer
		act := make([]float32, outDim)
		copy(act, pre)
		if l < L-1 {
			activationReLU(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch returns class probabilities for a batch of feature vectors.
func (m *Model) PredictBatch(inputs [][]float32) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forwardSingle(in)
		if err != nil {
			return nil, err
		}
		out[i] = softmax(acts[len(acts)-1])
	}
	return out, nil
}

// Evaluate returns the mean cross-entropy of b and the class probabilities
// of every example.
func (m *Model) Evaluate(b *datasets.Batch) (float64, [][]float64, error) {
	if b.Len() == 0 {
		return 0, nil, errors.New("empty batch")
	}
	inputs := make([][]float32, b.Len())
	for i := range inputs {
		inputs[i] = Features(b, i)
	}
	preds, err := m.PredictBatch(inputs)
	if err != nil {
		return 0, nil, err
	}
	var cost float64
	for i, p := range preds {
		if err := m.checkLabel(b.Labels[i]); err != nil {
			return 0, nil, err
		}
		cost -= math.Log(math.Max(p[b.Labels[i]], 1e-12))
	}
	return cost / float64(len(preds)), preds, nil
}

// Train runs one SGD step with softmax cross-entropy over b, averaging the
// gradients over the batch, and returns the mean cost before the update.
func (m *Model) Train(b *datasets.Batch, lr float64) (float64, error) {
	batchN := b.Len()
	if batchN == 0 {
		return 0, errors.New("empty batch")
	}
	if lr <= 0 {
		return 0, fmt.Errorf("learning rate must be > 0, got %g", lr)
	}

	// Initialize gradient accumulators (same shape as weights / biases)
	L := len(m.weights)
	gradW := make([][][]float32, L)
	gradB := make([][]float32, L)
	for l := 0; l < L; l++ {
		outDim := len(m.biases[l])
		inDim := len(m.weights[l][0])
		gradW[l] = make([][]float32, outDim)
		for j := 0; j < outDim; j++ {
			gradW[l][j] = make([]float32, inDim)
		}
		gradB[l] = make([]float32, outDim)
	}

	var cost float64
	for ex := 0; ex < batchN; ex++ {
		label := b.Labels[ex]
		if err := m.checkLabel(label); err != nil {
			return 0, err
		}
		preacts, acts, err := m.forwardSingle(Features(b, ex))
		if err != nil {
			return 0, err
		}

		// dLoss/dLogits = softmax - onehot
		probs := softmax(acts[len(acts)-1])
		cost -= math.Log(math.Max(probs[label], 1e-12))
		delta := make([]float32, len(probs))
		for j, p := range probs {
			delta[j] = float32(p)
		}
		delta[label] -= 1

		for l := L - 1; l >= 0; l-- {
			inAct := acts[l]
			outDim := len(delta)

			for j := 0; j < outDim; j++ {
				gradB[l][j] += delta[j]
				for i, a := range inAct {
					gradW[l][j][i] += delta[j] * a
				}
			}

			if l > 0 {
				prevLen := len(m.weights[l][0])
				newDelta := make([]float32, prevLen)
				for i := 0; i < prevLen; i++ {
					sum := float32(0.0)
					for j := 0; j < outDim; j++ {
						sum += m.weights[l][j][i] * delta[j]
					}
					newDelta[i] = sum
				}
				deriv := activationReLUDeriv(preacts[l-1])
				for i := range newDelta {
					newDelta[i] *= deriv[i]
				}
				delta = newDelta
			}
		}
	}

	// Average over the batch, then clip the global norm.
	scale := float32(1.0 / float64(batchN))
	var sq float64
	for l := 0; l < L; l++ {
		for j := range gradB[l] {
			gradB[l][j] *= scale
			sq += float64(gradB[l][j] * gradB[l][j])
			for i := range gradW[l][j] {
				gradW[l][j][i] *= scale
				sq += float64(gradW[l][j][i] * gradW[l][j][i])
			}
		}
	}
	step := float32(lr)
	if norm := float32(math.Sqrt(sq)); norm > m.Config.ClipNorm {
		step *= m.Config.ClipNorm / norm
	}
	for l := 0; l < L; l++ {
		for j := range m.biases[l] {
			m.biases[l][j] -= step * gradB[l][j]
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= step * gradW[l][j][i]
			}
		}
	}

	return cost / float64(batchN), nil
}

func (m *Model) checkLabel(label int) error {
	if label < 0 || label >= m.Config.NumClasses {
		return fmt.Errorf("label %d outside [0, %d)", label, m.Config.NumClasses)
	}
	return nil
}

// snapshot is the gob layout written by Save.
type snapshot struct {
	Config     Config
	LayerSizes []int
	Weights    [][][]float32
	Biases     [][]float32
}

// Save writes the model parameters to w.
func (m *Model) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(snapshot{
		Config:     m.Config,
		LayerSizes: m.layerSizes,
		Weights:    m.weights,
		Biases:     m.biases,
	})
}

// Load reads a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var s snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(s.LayerSizes) < 2 || s.LayerSizes[0] != FeatureDim || len(s.Weights) != len(s.LayerSizes)-1 {
		return nil, fmt.Errorf("model snapshot has unexpected layers %v", s.LayerSizes)
	}
	return &Model{
		Config:     s.Config,
		layerSizes: s.LayerSizes,
		weights:    s.Weights,
		biases:     s.Biases,
		rng:        rand.New(rand.NewSource(s.Config.Seed)),
	}, nil
}
