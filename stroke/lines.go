package stroke

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"gonum.org/v1/gonum/floats"
)

// Bounds is the absolute extent of a sketch, starting at the origin.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Width returns MaxX - MinX.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns MaxY - MinY.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// GetBounds walks the offsets of s (divided by factor) and returns the
// extent of the absolute positions. The origin is always inside the bounds.
func GetBounds(s Sequence, factor float64) Bounds {
	if len(s) == 0 {
		return Bounds{}
	}
	if factor == 0 {
		factor = 1
	}
	xs := make([]float64, len(s))
	ys := make([]float64, len(s))
	for i, p := range s {
		xs[i] = float64(p.DX) / factor
		ys[i] = float64(p.DY) / factor
	}
	floats.CumSum(xs, xs)
	floats.CumSum(ys, ys)
	return Bounds{
		MinX: math.Min(0, floats.Min(xs)),
		MaxX: math.Max(0, floats.Max(xs)),
		MinY: math.Min(0, floats.Min(ys)),
		MaxY: math.Max(0, floats.Max(ys)),
	}
}

// ToLines converts s into absolute polylines, one per pen-down segment. The
// first point is placed at the origin plus its offset.
func ToLines(s Sequence) []orb.LineString {
	var (
		lines []orb.LineString
		line  orb.LineString
		x, y  float64
	)
	for _, p := range s {
		x += float64(p.DX)
		y += float64(p.DY)
		line = append(line, orb.Point{x, y})
		if p.Lift == 1 {
			lines = append(lines, line)
			line = nil
		}
	}
	if len(line) > 0 {
		lines = append(lines, line)
	}
	return lines
}

// FromLines converts absolute polylines into a stroke-3 sequence. Offsets
// are taken from the origin for the first point, and the last point of every
// polyline carries Lift = 1.
func FromLines(lines []orb.LineString) Sequence {
	var (
		s            Sequence
		prevX, prevY float64
	)
	for _, line := range lines {
		for i, pt := range line {
			lift := float32(0)
			if i == len(line)-1 {
				lift = 1
			}
			s = append(s, Point{
				DX:   float32(pt.X() - prevX),
				DY:   float32(pt.Y() - prevY),
				Lift: lift,
			})
			prevX, prevY = pt.X(), pt.Y()
		}
	}
	return s
}

// Simplify runs Douglas-Peucker with the given tolerance over every
// polyline. Polylines with fewer than three points are returned unchanged.
func Simplify(lines []orb.LineString, tolerance float64) []orb.LineString {
	out := make([]orb.LineString, len(lines))
	dp := simplify.DouglasPeucker(tolerance)
	for i, ls := range lines {
		if len(ls) < 3 || tolerance <= 0 {
			out[i] = ls.Clone()
			continue
		}
		if simplified, ok := dp.Simplify(ls.Clone()).(orb.LineString); ok {
			out[i] = simplified
		} else {
			out[i] = ls.Clone()
		}
	}
	return out
}
