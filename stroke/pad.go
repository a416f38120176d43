package stroke

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Channels is the width of a stroke-5 row.
const Channels = 5

// StartToken is the synthetic first row of every padded sequence: a pen
// lift before the real sketch begins.
var StartToken = [Channels]float32{0, 0, 0, 1, 0}

// Batch5 stores a padded stroke-5 batch in one flat, row-major buffer of
// shape (Batch, Time, Channels).
type Batch5 struct {
	Buf   []float32
	Batch int
	Time  int
}

// NewBatch5 allocates a zeroed batch.
func NewBatch5(batch, time int) *Batch5 {
	return &Batch5{
		Buf:   make([]float32, batch*time*Channels),
		Batch: batch,
		Time:  time,
	}
}

// At returns row t of example b. The slice aliases Buf.
func (b *Batch5) At(example, t int) []float32 {
	off := (example*b.Time + t) * Channels
	return b.Buf[off : off+Channels : off+Channels]
}

// Rows returns example b as a list of stroke-5 rows, including the start
// token.
func (b *Batch5) Rows(example int) [][Channels]float32 {
	rows := make([][Channels]float32, b.Time)
	for t := range rows {
		copy(rows[t][:], b.At(example, t))
	}
	return rows
}

// Sequence decodes example b back into stroke-3, skipping the start token.
func (b *Batch5) Sequence(example int) Sequence {
	return ToNormal(b.Rows(example)[1:])
}

// PadBatch converts a batch of stroke-3 sequences into a stroke-5 tensor of
// shape (len(batch), maxLen+1, 5).
//
// Row 0 of every example is StartToken. Rows 1..l hold the l input points
// with (p1, p2) = (1-lift, lift). Rows l+1..maxLen are padding with p3 = 1.
// A sequence of exactly maxLen points therefore has no padding row.
func PadBatch(batch []Sequence, maxLen int) (*Batch5, error) {
	out := NewBatch5(len(batch), maxLen+1)
	for b, s := range batch {
		l := len(s)
		if l > maxLen {
			return nil, fmt.Errorf("%w: example %d has %d points, max is %d", ErrTooLong, b, l, maxLen)
		}
		copy(out.At(b, 0), StartToken[:])
		for t, p := range s {
			row := out.At(b, t+1)
			row[0] = p.DX
			row[1] = p.DY
			row[2] = 1 - p.Lift
			row[3] = p.Lift
		}
		for t := l + 1; t <= maxLen; t++ {
			out.At(b, t)[4] = 1
		}
	}
	return out, nil
}

// ToNormal converts stroke-5 rows back into stroke-3. Conversion stops at
// the first row flagged as finished (p3 > 0).
func ToNormal(rows [][Channels]float32) Sequence {
	l := len(rows)
	for i, r := range rows {
		if r[4] > 0 {
			l = i
			break
		}
	}
	s := make(Sequence, l)
	for i := range s {
		s[i] = Point{DX: rows[i][0], DY: rows[i][1], Lift: rows[i][3]}
	}
	return s
}

// ToGomlxTensor converts the batch into a gomlx tensor of shape
// (Batch, Time, 5).
func (b *Batch5) ToGomlxTensor() (*tensors.Tensor, error) {
	if b.Batch == 0 || b.Time == 0 {
		return nil, fmt.Errorf("empty stroke-5 batch (%d x %d)", b.Batch, b.Time)
	}
	if len(b.Buf) != b.Batch*b.Time*Channels {
		return nil, fmt.Errorf("buffer has %d values, expected %d", len(b.Buf), b.Batch*b.Time*Channels)
	}
	data := make([][][]float32, b.Batch)
	for i := range b.Batch {
		data[i] = make([][]float32, b.Time)
		for t := range b.Time {
			data[i][t] = b.At(i, t)
		}
	}
	return tensors.FromAnyValue(data), nil
}
