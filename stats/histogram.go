package stats

import (
	"sync"
	"time"
)

const maxBins = 100

type bin struct {
	value float64
	count float64
}

// Histogram is a streaming approximation of a duration distribution. Once
// it holds more than maxBins distinct values the two closest bins merge.
type Histogram struct {
	mu    sync.Mutex
	bins  []bin
	total uint64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{}
}

func (h *Histogram) String() string {
	if h.Count() == 0 {
		return "no samples"
	}
	return "min: " + PrettyTime(h.Quantile(0.0)) +
		" p50: " + PrettyTime(h.Quantile(0.5)) +
		" p90: " + PrettyTime(h.Quantile(0.9)) +
		" p99: " + PrettyTime(h.Quantile(0.99)) +
		" max: " + PrettyTime(h.Quantile(1.0))
}

// Reset drops all samples.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bins = nil
	h.total = 0
}

// Observe records d.
func (h *Histogram) Observe(d time.Duration) {
	h.add(float64(d.Nanoseconds()))
}

// Since records the time elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start))
}

func (h *Histogram) add(n float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.trim()
	h.total++
	newbin := bin{value: n, count: 1}
	for i := range h.bins {
		if h.bins[i].value > n {
			h.bins = append(h.bins[:i], append([]bin{newbin}, h.bins[i:]...)...)
			return
		}
	}

	h.bins = append(h.bins, newbin)
}

func (h *Histogram) trim() {
	for len(h.bins) > maxBins {
		d := float64(0)
		i := 0
		for j := 1; j < len(h.bins); j++ {
			if dv := h.bins[j].value - h.bins[j-1].value; dv < d || j == 1 {
				d = dv
				i = j
			}
		}
		count := h.bins[i-1].count + h.bins[i].count
		merged := bin{
			value: (h.bins[i-1].value*h.bins[i-1].count + h.bins[i].value*h.bins[i].count) / count,
			count: count,
		}
		h.bins = append(h.bins[:i-1], h.bins[i:]...)
		h.bins[i-1] = merged
	}
}

// Count returns the number of recorded samples.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Quantile returns the approximate q-quantile in nanoseconds, 0 <= q <= 1.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.bins) == 0 {
		return 0
	}
	if q <= 0 {
		return h.bins[0].value
	}
	count := q * float64(h.total)
	for i := range h.bins {
		count -= h.bins[i].count
		if count <= 0 {
			return h.bins[i].value
		}
	}
	return h.bins[len(h.bins)-1].value
}
