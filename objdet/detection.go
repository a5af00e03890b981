package objdet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// IDUnassigned marks a detection which has not passed identity assignment yet
	IDUnassigned = -1
	// AnyID disables object/class filtering in prediction requests
	AnyID = -1
)

// Detection is a single object found by a detector on the current frame.
type Detection struct {
	// Identity. IDUnassigned until AssignIdentities runs
	ID int
	// Class label produced by the detector
	ClassID int
	BBox    Rectangle
	// Detector confidence, optional
	Score float64
	// Arbitrary detector-specific data, passed through untouched
	Payload any
}

// NewDetection creates a detection without identity
func NewDetection(classID int, bbox Rectangle) Detection {
	return Detection{
		ID:      IDUnassigned,
		ClassID: classID,
		BBox:    bbox,
	}
}

// HasID reports whether identity has been assigned
func (d Detection) HasID() bool {
	return d.ID >= 0
}

func (d Detection) String() string {
	return fmt.Sprintf("Detection{id: %d, class: %d, bbox: (%.1f, %.1f, %.1f, %.1f)}", d.ID, d.ClassID, d.BBox.X, d.BBox.Y, d.BBox.Width, d.BBox.Height)
}

// Prediction is a forecast position of an already known object. Same shape as Detection,
// but ID is always valid.
type Prediction Detection

// NewPrediction creates a prediction for the object with given identifier
func NewPrediction(id, classID int, bbox Rectangle) Prediction {
	return Prediction{
		ID:      id,
		ClassID: classID,
		BBox:    bbox,
	}
}

// FrameMeta identifies the frame detections were taken from
type FrameMeta struct {
	ID        uuid.UUID
	Seq       uint64
	Timestamp time.Time
}

// NewFrameMeta creates frame metadata with fresh identifier
func NewFrameMeta(seq uint64, ts time.Time) FrameMeta {
	return FrameMeta{
		ID:        uuid.New(),
		Seq:       seq,
		Timestamp: ts,
	}
}

// RawFrame is undecoded frame data plus its metadata
type RawFrame struct {
	Meta FrameMeta
	Data []byte
}
