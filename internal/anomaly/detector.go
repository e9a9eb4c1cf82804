package anomaly

import "math"

const (
	// DefaultWindowSize is the number of recent values the detector keeps.
	DefaultWindowSize = 100

	// DefaultThreshold is the Z-score above which a value is anomalous.
	DefaultThreshold = 3.0

	// minSamples is the warmup count below which classification is
	// suppressed; too few samples make the statistics meaningless.
	minSamples = 30
)

// Detector classifies a stream of values with a Z-score over a bounded
// sliding window. It is single-producer: each worker owns its own instance,
// so no locking is needed and each worker keeps a consistent statistical
// context.
type Detector struct {
	threshold float64
	window    []float64
	next      int
	full      bool
}

// New creates a detector with the given window size and threshold.
// Non-positive arguments fall back to the defaults.
func New(windowSize int, threshold float64) *Detector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		threshold: threshold,
		window:    make([]float64, 0, windowSize),
	}
}

// Detect appends value to the window (evicting the oldest when full) and
// reports whether it is anomalous along with its Z-score.
//
// Until 30 values have accumulated, and whenever the window has zero
// variance, the result is (false, 0).
func (d *Detector) Detect(value float64) (bool, float64) {
	if d.full {
		d.window[d.next] = value
		d.next = (d.next + 1) % cap(d.window)
	} else {
		d.window = append(d.window, value)
		if len(d.window) == cap(d.window) {
			d.full = true
		}
	}

	if len(d.window) < minSamples {
		return false, 0.0
	}

	mean := 0.0
	for _, v := range d.window {
		mean += v
	}
	mean /= float64(len(d.window))

	variance := 0.0
	for _, v := range d.window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(d.window))

	std := math.Sqrt(variance)
	if std == 0 {
		return false, 0.0
	}

	z := math.Abs(value-mean) / std
	return z > d.threshold, z
}

// Len returns the number of values currently in the window.
func (d *Detector) Len() int {
	return len(d.window)
}
