package keyboard

import (
	"math"
	"sort"
)

// stats accumulates raw timing data between flushes. It never holds a key
// character, scan code, or virtual-key constant — only inter-press
// intervals and counts (spec §4.8b).
type stats struct {
	keydownCount int
	keyupCount   int
	intervals    []float64 // milliseconds
	burstCount   int
}

func (s *stats) reset() {
	s.keydownCount = 0
	s.keyupCount = 0
	s.intervals = nil
	s.burstCount = 0
}

func (s *stats) total() int {
	return s.keydownCount + s.keyupCount
}

// toAttrs computes the exact keyboard/stats schema (spec §4.8b): mean,
// linearly-interpolated p95, and sample stdev over NaN/Inf-filtered
// intervals, with 0/1-interval edge cases collapsing to 0.0.
func (s *stats) toAttrs() map[string]any {
	clean := make([]float64, 0, len(s.intervals))
	for _, v := range s.intervals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean = append(clean, v)
	}

	mean := meanOf(clean)
	p95 := percentile(clean, 95)
	stdev := stdevOf(clean)

	return map[string]any{
		"keydown":  s.keydownCount,
		"keyup":    s.keyupCount,
		"mean_ms":  mean,
		"p95_ms":   p95,
		"stdev_ms": stdev,
		"bursts":   s.burstCount,
	}
}

func meanOf(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0.0
	}
	return mean
}

// stdevOf is the sample standard deviation (N-1 denominator); 0 or 1
// samples yield 0.0 rather than an undefined result.
func stdevOf(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	mean := meanOf(data)
	var sumSq float64
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(data)-1)
	stdev := math.Sqrt(variance)
	if math.IsNaN(stdev) || math.IsInf(stdev, 0) {
		return 0.0
	}
	return stdev
}

// percentile linearly interpolates the p-th percentile over data, sorted
// ascending, matching the original's "lower + fraction*(upper-lower)"
// method exactly.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	k := float64(len(sorted)-1) * p / 100.0
	f := int(k)
	c := k - float64(f)

	var result float64
	if f+1 < len(sorted) {
		result = sorted[f]*(1-c) + sorted[f+1]*c
	} else {
		result = sorted[f]
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0.0
	}
	return result
}
