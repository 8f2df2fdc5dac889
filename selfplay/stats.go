package selfplay

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow matches the 100-episode horizon used to call a run solved.
const DefaultWindow = 100

// RollingStats keeps the last Window values and reports their mean and
// sample standard deviation. It is safe for concurrent use.
type RollingStats struct {
	mu     sync.Mutex
	values []float64
	next   int
	full   bool
}

func NewRollingStats(window int) *RollingStats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RollingStats{values: make([]float64, 0, window)}
}

func (r *RollingStats) Add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		r.values = append(r.values, v)
		r.full = len(r.values) == cap(r.values)
		return
	}
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
}

func (r *RollingStats) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Full reports whether a whole window has been observed.
func (r *RollingStats) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full
}

// MeanStd returns zeros before any value arrives and a zero deviation for a
// single value.
func (r *RollingStats) MeanStd() (mean, std float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch len(r.values) {
	case 0:
		return 0, 0
	case 1:
		return r.values[0], 0
	}
	return stat.MeanStdDev(r.values, nil)
}
