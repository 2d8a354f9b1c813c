package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

const (
	// SampleCount is the fixed width of the downsampled waveform vector.
	SampleCount = 80

	// maxAmplitude is the peak displacement of the rendered path in
	// viewport units.
	maxAmplitude = 25

	// minSeparation keeps the mirrored halves from collapsing into a line
	// during quiet passages.
	minSeparation = 2
)

// Visualizer folds raw frequency frames into a fixed-width sample vector and
// a scalar energy estimate. It is reused across track changes; only Close
// tears it down.
type Visualizer struct {
	mu      sync.RWMutex
	samples []float64
	energy  float64
	closed  bool
}

// NewVisualizer creates an empty visualizer.
func NewVisualizer() *Visualizer {
	return &Visualizer{samples: make([]float64, SampleCount)}
}

// Frame ingests one frame of frequency bins (byte magnitudes, 0..255). Each
// bin is normalized by sqrt(v/255) to lift quiet content, the mean becomes
// the frame energy, and the bins are averaged down to SampleCount samples.
func (v *Visualizer) Frame(bins []byte) {
	if len(bins) == 0 {
		return
	}

	normalized := make([]float64, len(bins))
	var sum float64
	for i, b := range bins {
		n := math.Sqrt(float64(b) / 255)
		normalized[i] = n
		sum += n
	}
	energy := sum / float64(len(normalized))

	samples := make([]float64, SampleCount)
	step := len(normalized) / SampleCount
	if step < 1 {
		step = 1
	}
	for i := 0; i < SampleCount; i++ {
		start := i * step
		if start >= len(normalized) {
			break
		}
		end := start + step
		if end > len(normalized) {
			end = len(normalized)
		}
		var s float64
		for _, n := range normalized[start:end] {
			s += n
		}
		samples[i] = s / float64(end-start)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.samples = samples
	v.energy = energy
}

// Samples returns a copy of the current sample vector.
func (v *Visualizer) Samples() []float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]float64, len(v.samples))
	copy(out, v.samples)
	return out
}

// Energy returns the current scalar energy estimate.
func (v *Visualizer) Energy() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.energy
}

// Reset zeroes the state without tearing the visualizer down. Used between
// tracks so the path collapses instead of freezing on the last frame.
func (v *Visualizer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.samples = make([]float64, SampleCount)
	v.energy = 0
}

// Close tears the visualizer down; later frames are dropped.
func (v *Visualizer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.samples = make([]float64, SampleCount)
	v.energy = 0
}

// WaveformPath renders the sample vector as a mirrored SVG path centered
// vertically in a width-by-height viewport. The top half is a chain of
// quadratic curves through the sample points; the bottom half is its mirror,
// with a minimum separation so silence still draws a visible band.
func WaveformPath(samples []float64, width, height float64) string {
	if len(samples) == 0 || width <= 0 || height <= 0 {
		return ""
	}

	mid := height / 2
	step := width / float64(len(samples))

	top := make([]float64, len(samples))
	for i, s := range samples {
		amp := s * maxAmplitude
		if amp < minSeparation {
			amp = minSeparation
		}
		top[i] = mid - amp
	}

	var b strings.Builder
	fmt.Fprintf(&b, "M 0 %s", coord(top[0]))
	for i := 1; i < len(top); i++ {
		x := float64(i) * step
		cx := x - step/2
		fmt.Fprintf(&b, " Q %s %s %s %s", coord(cx), coord(top[i-1]), coord(x), coord(top[i]))
	}

	// Mirror back along the bottom half.
	last := len(top) - 1
	fmt.Fprintf(&b, " L %s %s", coord(float64(last)*step), coord(mirror(top[last], mid)))
	for i := last - 1; i >= 0; i-- {
		x := float64(i) * step
		cx := x + step/2
		fmt.Fprintf(&b, " Q %s %s %s %s",
			coord(cx), coord(mirror(top[i+1], mid)),
			coord(x), coord(mirror(top[i], mid)))
	}
	b.WriteString(" Z")

	return b.String()
}

func mirror(y, mid float64) float64 {
	return mid + (mid - y)
}

// coord formats a coordinate with two decimals, trimming a trailing ".00".
func coord(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	return strings.TrimSuffix(s, ".00")
}

// WaveformColor maps energy to an rgba fill. Energy is amplified and clamped
// before banding; within each band the alpha scales with intensity so louder
// passages read brighter.
func WaveformColor(energy float64) string {
	intensity := energy * 2
	if intensity > 1 {
		intensity = 1
	}

	switch {
	case intensity < 0.2:
		return fmt.Sprintf("rgba(96, 165, 250, %.2f)", 0.4+intensity*0.2)
	case intensity < 0.5:
		return fmt.Sprintf("rgba(139, 92, 246, %.2f)", 0.5+intensity*0.15)
	case intensity < 0.8:
		return fmt.Sprintf("rgba(236, 72, 153, %.2f)", 0.6+intensity*0.1)
	default:
		return fmt.Sprintf("rgba(239, 68, 68, %.2f)", 0.7+intensity*0.1)
	}
}
