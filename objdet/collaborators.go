package objdet

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
)

// Detector finds objects on a decoded frame.
// roi is empty when the whole frame should be searched. hint holds current predictions,
// detector may use them but does not have to. Returned detections must have ClassID set;
// their ID is ignored.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error)
}

// PredictionProvider forecasts positions of already known objects at timestamp ts.
// objectID and classID narrow the result; AnyID disables the filter.
// Failures should wrap ErrServiceUnavailable.
type PredictionProvider interface {
	Predict(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error)
}

// Sink consumes fully identified detections of a frame.
// Implementations must not keep dets past the call unless they copy it.
type Sink interface {
	Publish(ctx context.Context, meta FrameMeta, dets []Detection) error
}

// FrameDecoder turns raw frame data into an image
type FrameDecoder interface {
	Decode(raw RawFrame) (image.Image, error)
}

// FrameSource yields raw frames one by one. io.EOF signals the end of the stream.
type FrameSource interface {
	Next(ctx context.Context) (RawFrame, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error) {
	return f(ctx, frame, roi, hint)
}

// PredictionProviderFunc adapts a function to PredictionProvider
type PredictionProviderFunc func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error)

func (f PredictionProviderFunc) Predict(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
	return f(ctx, ts, objectID, classID)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, meta FrameMeta, dets []Detection) error

func (f SinkFunc) Publish(ctx context.Context, meta FrameMeta, dets []Detection) error {
	return f(ctx, meta, dets)
}

// NoPredictions is a provider which never knows anything
var NoPredictions = PredictionProviderFunc(func(context.Context, time.Time, int, int) ([]Prediction, error) {
	return nil, nil
})

// MultiSink publishes to every sink in order. All sinks are called even if some fail,
// the first error is returned.
type MultiSink []Sink

func (sinks MultiSink) Publish(ctx context.Context, meta FrameMeta, dets []Detection) error {
	var firstErr error
	for i, sink := range sinks {
		if err := sink.Publish(ctx, meta, dets); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "sink #%d", i)
		}
	}
	return firstErr
}
