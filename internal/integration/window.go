package integration

import (
	"slices"
	"sync"
)

// latencyWindow keeps the most recent tool call latencies in a ring buffer
// for percentile and error-rate queries. Safe for concurrent use.
type latencyWindow struct {
	mu      sync.Mutex
	samples []int64 // milliseconds
	pos     int
	count   int
	errors  int
	size    int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 100
	}
	return &latencyWindow{samples: make([]int64, size), size: size}
}

// Record adds one measurement. The oldest sample is overwritten once the
// buffer is full; the error counter is an approximation scoped to the
// current window.
func (w *latencyWindow) Record(latencyMs int64, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = latencyMs
	w.pos = (w.pos + 1) % w.size
	w.count++
	if isError {
		w.errors++
		if w.errors > w.size {
			w.errors = w.size
		}
	}
}

func (w *latencyWindow) filled() int {
	if w.count >= w.size {
		return w.size
	}
	return w.count
}

// Count reports total recorded samples (may exceed the buffer size).
func (w *latencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// P50 returns the median latency of the current window, 0 when empty.
func (w *latencyWindow) P50() int64 {
	return w.percentile(0.50)
}

// P95 returns the 95th percentile latency of the current window.
func (w *latencyWindow) P95() int64 {
	return w.percentile(0.95)
}

func (w *latencyWindow) percentile(q float64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.filled()
	if n == 0 {
		return 0
	}
	sorted := make([]int64, n)
	copy(sorted, w.samples[:n])
	slices.Sort(sorted)
	idx := int(q * float64(n-1))
	return sorted[idx]
}

// ErrorRate returns the error share of the current window in [0, 1].
func (w *latencyWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.filled()
	if n == 0 {
		return 0
	}
	errs := w.errors
	if errs > n {
		errs = n
	}
	return float64(errs) / float64(n)
}
