package geo

import "sync"

// TrackBuffer keeps a rolling window of positions and derives the direction
// of travel from it. Samples closer than minStep meters to the previous one
// are dropped so a stationary device does not spin its heading on GPS noise.
type TrackBuffer struct {
	mu         sync.RWMutex
	samples    []Point
	windowSize int
	minStep    float64
}

// NewTrackBuffer creates a new buffer with the specified sample window size.
func NewTrackBuffer(windowSize int, minStepMeters float64) *TrackBuffer {
	if windowSize < 2 {
		windowSize = 2
	}
	return &TrackBuffer{
		windowSize: windowSize,
		minStep:    minStepMeters,
	}
}

// Push adds a new point to the buffer and returns the current course over ground.
// If the buffer has fewer than 2 points, it returns the provided default heading.
func (b *TrackBuffer) Push(p Point, defaultHeading float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.samples); n > 0 && Distance(b.samples[n-1], p) < b.minStep {
		return b.track(defaultHeading)
	}

	b.samples = append(b.samples, p)
	if len(b.samples) > b.windowSize {
		b.samples = b.samples[1:]
	}
	return b.track(defaultHeading)
}

func (b *TrackBuffer) track(defaultHeading float64) float64 {
	if len(b.samples) < 2 {
		return defaultHeading
	}
	// Oldest to newest point in the window
	return Bearing(b.samples[0], b.samples[len(b.samples)-1], defaultHeading)
}

// Reset clears the buffer history.
func (b *TrackBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}
