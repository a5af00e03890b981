package objdet

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// bboxFilter is the part of kalman_filter.KalmanBBox used by trackedBox
type bboxFilter interface {
	Predict()
	Update(zCx, zCy, zW, zH float64) error
	GetState() (float64, float64, float64, float64)
}

// trackedBox is an object known to KalmanPredictor.
// It uses 8-D Kalman filter for full bounding box dynamics.
// State vector: [cx, cy, w, h, vx, vy, vw, vh] - center position, size, and velocities.
type trackedBox struct {
	id            int
	classID       int
	currentBBox   Rectangle
	predictedBBox Rectangle
	predictedAt   time.Time
	track         []Point
	maxTrackLen   int
	noMatchTimes  int
	tracker       bboxFilter
}

func newTrackedBox(det Detection, dt float64) *trackedBox {
	bbox := det.BBox
	center := bbox.Center()

	// Kalman filter props
	uCx := 1.0
	uCy := 1.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, bbox.Width, bbox.Height),
	)

	box := trackedBox{
		id:            det.ID,
		classID:       det.ClassID,
		currentBBox:   bbox,
		predictedBBox: bbox,
		track:         make([]Point, 0, 150),
		maxTrackLen:   150,
		tracker:       kf,
	}
	box.track = append(box.track, center)
	return &box
}

// predictNextPosition executes Kalman filter prediction step once per timestamp
func (box *trackedBox) predictNextPosition(ts time.Time) {
	if !box.predictedAt.IsZero() && box.predictedAt.Equal(ts) {
		return
	}
	box.tracker.Predict()
	cx, cy, w, h := box.tracker.GetState()
	box.predictedBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  math.Max(w, 0),
		Height: math.Max(h, 0),
	}
	box.predictedAt = ts
}

// update executes Kalman filter update step with measured bounding box
func (box *trackedBox) update(bbox Rectangle) error {
	center := bbox.Center()
	err := box.tracker.Update(center.X, center.Y, bbox.Width, bbox.Height)
	if err != nil {
		return errors.Wrap(err, "Can't update object tracker")
	}
	// Get smoothed state from Kalman filter
	cx, cy, w, h := box.tracker.GetState()
	box.currentBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
	box.noMatchTimes = 0
	box.track = append(box.track, Point{X: cx, Y: cy})
	if len(box.track) > box.maxTrackLen {
		box.track = box.track[1:]
	}
	return nil
}

// TrackSnapshot is a read-only copy of an object known to KalmanPredictor
type TrackSnapshot struct {
	ID           int
	ClassID      int
	BBox         Rectangle
	Track        []Point
	NoMatchTimes int
}

// KalmanPredictor is a reference prediction subsystem. It is both a Sink (it learns from
// identified detections) and a PredictionProvider (it forecasts their next boxes).
type KalmanPredictor struct {
	mu sync.Mutex
	// Time step of Kalman filters, seconds
	dt float64
	// Max no match (max number of frames when object could not be found again)
	maxNoMatch int
	// Main storage
	tracks map[int]*trackedBox
}

// NewKalmanPredictor creates predictor. dt is the expected time between frames in seconds
func NewKalmanPredictor(dt float64, maxNoMatch int) *KalmanPredictor {
	if dt <= 0 {
		dt = 1.0
	}
	return &KalmanPredictor{
		dt:         dt,
		maxNoMatch: maxNoMatch,
		tracks:     make(map[int]*trackedBox),
	}
}

// NewDefaultKalmanPredictor creates predictor with dt=1.0 and DefaultMaxNoMatch
func NewDefaultKalmanPredictor() *KalmanPredictor {
	return NewKalmanPredictor(1.0, DefaultMaxNoMatch)
}

// Predict implements PredictionProvider. Predictions are sorted by identity.
func (predictor *KalmanPredictor) Predict(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapKind(ErrServiceUnavailable, err, "Kalman predictor")
	}
	predictor.mu.Lock()
	defer predictor.mu.Unlock()

	predictions := make([]Prediction, 0, len(predictor.tracks))
	for id, box := range predictor.tracks {
		if objectID != AnyID && id != objectID {
			continue
		}
		if classID != AnyID && box.classID != classID {
			continue
		}
		box.predictNextPosition(ts)
		predictions = append(predictions, NewPrediction(id, box.classID, box.predictedBBox))
	}
	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].ID < predictions[j].ID
	})
	return predictions, nil
}

// Publish implements Sink: matched identities update their filters, new identities start new
// tracks, the rest are counted as missed and eventually forgotten.
func (predictor *KalmanPredictor) Publish(ctx context.Context, meta FrameMeta, dets []Detection) error {
	predictor.mu.Lock()
	defer predictor.mu.Unlock()

	var updateErr error
	seen := make(map[int]struct{}, len(dets))
	for _, det := range dets {
		if !det.HasID() {
			continue
		}
		// Several detections may inherit the same identity, first one wins
		if _, ok := seen[det.ID]; ok {
			continue
		}
		seen[det.ID] = struct{}{}
		box, ok := predictor.tracks[det.ID]
		// Identity reused after counter wrap-around or class changed: start over
		if !ok || box.classID != det.ClassID {
			predictor.tracks[det.ID] = newTrackedBox(det, predictor.dt)
			continue
		}
		if err := box.update(det.BBox); err != nil && updateErr == nil {
			updateErr = errors.Wrapf(err, "Can't update track %d (frame %d)", det.ID, meta.Seq)
		}
	}

	// Clean up existing data
	for id, box := range predictor.tracks {
		if _, ok := seen[id]; ok {
			continue
		}
		box.noMatchTimes++
		// Remove object if it was not found for a long time
		if box.noMatchTimes > predictor.maxNoMatch {
			delete(predictor.tracks, id)
		}
	}
	return updateErr
}

// Tracks returns snapshot of known objects sorted by identity
func (predictor *KalmanPredictor) Tracks() []TrackSnapshot {
	predictor.mu.Lock()
	defer predictor.mu.Unlock()
	snapshots := make([]TrackSnapshot, 0, len(predictor.tracks))
	for id, box := range predictor.tracks {
		track := make([]Point, len(box.track))
		copy(track, box.track)
		snapshots = append(snapshots, TrackSnapshot{
			ID:           id,
			ClassID:      box.classID,
			BBox:         box.currentBBox,
			Track:        track,
			NoMatchTimes: box.noMatchTimes,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ID < snapshots[j].ID
	})
	return snapshots
}
