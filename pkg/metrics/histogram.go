package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
)

// reportedQuantiles are included in every HistogramSummary.
var reportedQuantiles = []float64{0.5, 0.9, 0.99}

// Histogram tracks the distribution of values across predefined buckets.
// Thread-safe for concurrent use.
type Histogram struct {
	mu     sync.RWMutex
	bounds []float64 // Upper bounds, ascending
	counts []uint64  // Count per bucket, last entry is the +Inf bucket
	sum    float64
	count  uint64
	min    float64
	max    float64
}

// NewHistogram creates a histogram with the given bucket boundaries.
// Boundaries are copied, sorted and de-duplicated.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	b = slices.Compact(b)

	return &Histogram{
		bounds: b,
		counts: make([]uint64, len(b)+1),
		min:    math.Inf(1),
		max:    math.Inf(-1),
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.count++
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
}

// HistogramSummary contains summarized histogram data.
type HistogramSummary struct {
	Count     uint64              `json:"count"`
	Sum       float64             `json:"sum"`
	Min       float64             `json:"min"`
	Max       float64             `json:"max"`
	Mean      float64             `json:"mean"`
	Buckets   []BucketCount       `json:"buckets"`
	Quantiles map[float64]float64 `json:"quantiles,omitempty"`
}

// BucketCount represents a histogram bucket with its upper bound and cumulative count.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary returns a summary of the histogram.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HistogramSummary{
			Buckets:   []BucketCount{},
			Quantiles: map[float64]float64{},
		}
	}

	buckets := make([]BucketCount, 0, len(h.counts))
	var cumulative uint64
	for i, c := range h.counts {
		cumulative += c
		bound := math.Inf(1)
		if i < len(h.bounds) {
			bound = h.bounds[i]
		}
		buckets = append(buckets, BucketCount{UpperBound: bound, Count: cumulative})
	}

	quantiles := make(map[float64]float64, len(reportedQuantiles))
	for _, q := range reportedQuantiles {
		quantiles[q] = h.quantileLocked(q)
	}

	return HistogramSummary{
		Count:     h.count,
		Sum:       h.sum,
		Min:       h.min,
		Max:       h.max,
		Mean:      h.sum / float64(h.count),
		Buckets:   buckets,
		Quantiles: quantiles,
	}
}

// Quantile estimates the q-quantile (0 < q <= 1) by linear interpolation
// inside the bucket holding the target rank. Returns 0 for an empty histogram.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.quantileLocked(q)
}

func (h *Histogram) quantileLocked(q float64) float64 {
	if h.count == 0 {
		return 0
	}
	rank := q * float64(h.count)

	var cumulative uint64
	for i, c := range h.counts {
		prev := cumulative
		cumulative += c
		if float64(cumulative) < rank || c == 0 {
			continue
		}
		if i >= len(h.bounds) {
			return h.max
		}
		lower := math.Max(h.min, 0)
		if i > 0 {
			lower = h.bounds[i-1]
		}
		upper := math.Min(h.bounds[i], h.max)
		if upper < lower {
			return upper
		}
		fraction := (rank - float64(prev)) / float64(c)
		return lower + fraction*(upper-lower)
	}
	return h.max
}

// Reset clears all histogram data.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.counts)
	h.sum = 0
	h.count = 0
	h.min = math.Inf(1)
	h.max = math.Inf(-1)
}

// Count returns the total number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Mean returns the mean of all observations.
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}
