package objdet

import "sync"

// IdentityCounter hands out identifiers for newly seen objects.
// Values go 1, 2, ..., max and then start again from 1.
// Safe for concurrent use, so several pipelines may share one identity space.
type IdentityCounter struct {
	mu   sync.Mutex
	last int
	max  int
}

// NewIdentityCounter creates counter starting at zero. Non-positive max falls back to DefaultMaxIdentityValue
func NewIdentityCounter(max int) *IdentityCounter {
	if max <= 0 {
		max = DefaultMaxIdentityValue
	}
	return &IdentityCounter{
		max: max,
	}
}

// Next returns fresh identifier. Wrap-around and increment happen under one lock.
func (counter *IdentityCounter) Next() int {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.last >= counter.max {
		counter.last = 0
	}
	counter.last++
	return counter.last
}

// Last returns the most recently issued identifier (zero if none yet)
func (counter *IdentityCounter) Last() int {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	return counter.last
}

// Max returns wrap-around limit
func (counter *IdentityCounter) Max() int {
	return counter.max
}

// AssignIdentities sets ID of every detection in place: matched detections inherit identity of
// the prediction, unmatched ones get a fresh identity from counter.
// Returns number of newly minted identities.
func AssignIdentities(detections []Detection, matches []Match, predictions []Prediction, counter *IdentityCounter) int {
	minted := 0
	assigned := make([]bool, len(detections))
	for _, match := range matches {
		if match.DetectionIdx < 0 || match.DetectionIdx >= len(detections) || assigned[match.DetectionIdx] {
			continue
		}
		// Predictions without valid identity can't be inherited
		if match.PredictionIdx >= 0 && match.PredictionIdx < len(predictions) && predictions[match.PredictionIdx].ID >= 0 {
			detections[match.DetectionIdx].ID = predictions[match.PredictionIdx].ID
		} else {
			detections[match.DetectionIdx].ID = counter.Next()
			minted++
		}
		assigned[match.DetectionIdx] = true
	}
	// Detections without any Match record are treated as unmatched
	for i := range detections {
		if !assigned[i] {
			detections[i].ID = counter.Next()
			minted++
		}
	}
	return minted
}
