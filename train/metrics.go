package train

import (
	"errors"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// MetricsSink receives scalar metrics keyed by step and name.
type MetricsSink interface {
	Record(step int, name string, value float64) error
}

type discard struct{}

func (discard) Record(int, string, float64) error { return nil }

// Discard is a MetricsSink that drops everything.
var Discard MetricsSink = discard{}

// Tee records into every sink, returning the joined errors.
func Tee(sinks ...MetricsSink) MetricsSink {
	return tee(sinks)
}

type tee []MetricsSink

func (t tee) Record(step int, name string, value float64) error {
	var errs []error
	for _, s := range t {
		if err := s.Record(step, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Point is one recorded value.
type Point struct {
	Step  int
	Value float64
}

// History keeps every recorded metric in memory. It is safe for concurrent
// use.
type History struct {
	mu     sync.Mutex
	series map[string][]Point
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{series: make(map[string][]Point)}
}

// Record appends value to the named series.
func (h *History) Record(step int, name string, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.series == nil {
		h.series = make(map[string][]Point)
	}
	h.series[name] = append(h.series[name], Point{Step: step, Value: value})
	return nil
}

// Names returns the recorded series names, sorted.
func (h *History) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.series))
	for name := range h.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Points returns a copy of the named series.
func (h *History) Points(name string) []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Point(nil), h.series[name]...)
}

// Values returns the values of the named series.
func (h *History) Values(name string) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	pts := h.series[name]
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// Last returns the most recent value of the named series.
func (h *History) Last(name string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pts := h.series[name]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].Value, true
}

// SeriesSummary holds aggregate statistics of one series.
type SeriesSummary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

// Summarize aggregates the named series. ok is false for an empty series.
func (h *History) Summarize(name string) (s SeriesSummary, ok bool) {
	v := h.Values(name)
	if len(v) == 0 {
		return s, false
	}
	return SeriesSummary{
		Count: len(v),
		Min:   floats.Min(v),
		Max:   floats.Max(v),
		Mean:  floats.Sum(v) / float64(len(v)),
	}, true
}
