// Package stroke holds the two pen-stroke encodings used by the sketch
// pipeline and the conversions between them.
//
// A stroke-3 point is (dx, dy, lift): offsets from the previous point and a
// flag that is 1 when the pen leaves the paper after this point. A stroke-5
// row is (dx, dy, p1, p2, p3) where (p1, p2, p3) one-hot encodes drawing,
// pen lifted and sequence finished.
package stroke

import "errors"

// ErrTooLong is returned by PadBatch when a sequence does not fit in the
// requested maximum length. Reaching it means upstream filtering is broken.
var ErrTooLong = errors.New("sequence longer than max length")

// Point is one stroke-3 row.
type Point struct {
	DX   float32
	DY   float32
	Lift float32
}

// Sequence is a single sketch in stroke-3 format.
type Sequence []Point

// Clone returns an independent copy of s.
func (s Sequence) Clone() Sequence {
	if s == nil {
		return nil
	}
	out := make(Sequence, len(s))
	copy(out, s)
	return out
}

// Rows converts s into plain [dx, dy, lift] rows, the layout used by the
// on-disk formats.
func (s Sequence) Rows() [][3]float32 {
	rows := make([][3]float32, len(s))
	for i, p := range s {
		rows[i] = [3]float32{p.DX, p.DY, p.Lift}
	}
	return rows
}

// FromRows builds a Sequence from [dx, dy, lift] rows.
func FromRows(rows [][3]float32) Sequence {
	s := make(Sequence, len(rows))
	for i, r := range rows {
		s[i] = Point{DX: r[0], DY: r[1], Lift: r[2]}
	}
	return s
}

// MaxLen returns the length of the longest sequence, 0 for none.
func MaxLen(seqs []Sequence) int {
	maxLen := 0
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	return maxLen
}

// Float64er is the slice of *rand.Rand the stroke helpers need.
type Float64er interface {
	Float64() float64
}
