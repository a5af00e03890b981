package objdet

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func pngFrame(t *testing.T, seq uint64) RawFrame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return RawFrame{
		Meta: NewFrameMeta(seq, time.Unix(1700000000, 0).Add(time.Duration(seq)*40*time.Millisecond)),
		Data: buf.Bytes(),
	}
}

// staticDetector returns the same detections for every frame
type staticDetector struct {
	detections []Detection
	calls      int
	hints      [][]Prediction
}

func (d *staticDetector) Detect(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error) {
	d.calls++
	d.hints = append(d.hints, hint)
	out := make([]Detection, len(d.detections))
	copy(out, d.detections)
	return out, nil
}

type published struct {
	meta FrameMeta
	dets []Detection
}

type recordingSink struct {
	frames []published
}

func (s *recordingSink) Publish(ctx context.Context, meta FrameMeta, dets []Detection) error {
	cp := make([]Detection, len(dets))
	copy(cp, dets)
	s.frames = append(s.frames, published{meta: meta, dets: cp})
	return nil
}

func staticPredictions(preds ...Prediction) PredictionProvider {
	return PredictionProviderFunc(func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
		return preds, nil
	})
}

func newTestPipeline(t *testing.T, detector Detector, provider PredictionProvider, sink Sink, opts ...PipelineOption) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(DefaultConfig(), detector, provider, sink, opts...)
	require.NoError(t, err)
	return pipeline
}

func TestPipelineInheritsIdentity(t *testing.T) {
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(10, 10, 20, 20))}}
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, staticPredictions(NewPrediction(7, 1, NewRect(10, 10, 20, 20))), sink)

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 7, dets[0].ID)
	assert.Equal(t, 0, pipeline.IdentityCounter().Last())

	require.Len(t, sink.frames, 1)
	assert.Equal(t, 7, sink.frames[0].dets[0].ID)
	// Detector got predictions as a hint
	require.Len(t, detector.hints, 1)
	assert.Len(t, detector.hints[0], 1)
}

func TestPipelineClassMismatchMintsIdentity(t *testing.T) {
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, staticPredictions(NewPrediction(7, 2, NewRect(0, 0, 10, 10))), sink)

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ID)
	assert.Equal(t, 1, pipeline.IdentityCounter().Last())
	assert.Equal(t, uint64(1), pipeline.Stats().IdentitiesMinted)
}

func TestPipelineFreshIdentitiesInOrder(t *testing.T) {
	detector := &staticDetector{detections: []Detection{
		NewDetection(1, NewRect(0, 0, 10, 10)),
		NewDetection(1, NewRect(100, 100, 10, 10)),
	}}
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, nil, sink)

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 1, dets[0].ID)
	assert.Equal(t, 2, dets[1].ID)
}

func TestPipelineIgnoresDetectorIdentity(t *testing.T) {
	det := NewDetection(1, NewRect(0, 0, 10, 10))
	det.ID = 999
	detector := &staticDetector{detections: []Detection{det}}
	pipeline := newTestPipeline(t, detector, nil, &recordingSink{})

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, dets[0].ID)
}

func TestPipelinePredictorUnavailable(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(10, 10, 20, 20))}}
	provider := PredictionProviderFunc(func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
		return nil, errors.New("connection refused")
	})
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, provider, sink, WithLogger(zap.New(core)))

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ID)
	require.Len(t, sink.frames, 1)

	stats := pipeline.Stats()
	assert.Equal(t, uint64(1), stats.PredictorFailures)
	assert.Equal(t, uint64(1), stats.FramesProcessed)

	entries := logs.All()
	require.Len(t, entries, 1)
	loggedErr, ok := entries[0].ContextMap()["error"]
	require.True(t, ok)
	assert.Contains(t, loggedErr, ErrServiceUnavailable.Error())
}

func TestPipelinePredictTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PredictTimeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	// Provider ignoring ctx
	provider := PredictionProviderFunc(func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
		<-release
		return []Prediction{NewPrediction(7, 1, NewRect(0, 0, 10, 10))}, nil
	})
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	pipeline, err := NewPipeline(cfg, detector, provider, &recordingSink{})
	require.NoError(t, err)

	start := time.Now()
	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ID)
	assert.Equal(t, uint64(1), pipeline.Stats().PredictorFailures)
}

func TestPipelineSkipsUndecodableFrame(t *testing.T) {
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	sink := &recordingSink{}
	predictCalls := 0
	provider := PredictionProviderFunc(func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
		predictCalls++
		return nil, nil
	})
	pipeline := newTestPipeline(t, detector, provider, sink)

	raw := RawFrame{Meta: NewFrameMeta(3, time.Now()), Data: []byte("definitely not an image")}
	dets, err := pipeline.ProcessFrame(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, IsFrameDecode(err))
	assert.Nil(t, dets)
	assert.Equal(t, 0, detector.calls)
	assert.Equal(t, 0, predictCalls)
	assert.Empty(t, sink.frames)
	assert.Equal(t, 0, pipeline.IdentityCounter().Last())

	stats := pipeline.Stats()
	assert.Equal(t, uint64(1), stats.FramesSkipped)
	assert.Equal(t, uint64(1), stats.DecodeFailures)
}

func TestPipelineDetectorFailure(t *testing.T) {
	detector := DetectorFunc(func(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error) {
		return nil, errors.New("model is not loaded")
	})
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, nil, sink)

	_, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDetector))
	assert.Empty(t, sink.frames)
	assert.Equal(t, uint64(1), pipeline.Stats().DetectorFailures)
}

func TestPipelineSinkFailure(t *testing.T) {
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	sink := SinkFunc(func(ctx context.Context, meta FrameMeta, dets []Detection) error {
		return errors.New("queue is full")
	})
	pipeline := newTestPipeline(t, detector, nil, sink)

	dets, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSink))
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ID)
	assert.Equal(t, uint64(1), pipeline.Stats().SinkFailures)
}

func TestPipelineFillsFrameMeta(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var requested time.Time
	provider := PredictionProviderFunc(func(ctx context.Context, ts time.Time, objectID, classID int) ([]Prediction, error) {
		requested = ts
		assert.Equal(t, AnyID, objectID)
		assert.Equal(t, AnyID, classID)
		return nil, nil
	})
	sink := &recordingSink{}
	detector := &staticDetector{}
	pipeline := newTestPipeline(t, detector, provider, sink, WithClock(func() time.Time { return now }))

	raw := pngFrame(t, 11)
	raw.Meta = FrameMeta{Seq: 11}
	_, err := pipeline.ProcessFrame(context.Background(), raw)
	require.NoError(t, err)

	require.Len(t, sink.frames, 1)
	meta := sink.frames[0].meta
	assert.NotEqual(t, uuid.Nil, meta.ID)
	assert.Equal(t, uint64(11), meta.Seq)
	assert.Equal(t, now, meta.Timestamp)
	assert.Equal(t, now, requested)
	assert.Empty(t, sink.frames[0].dets)
}

func TestPipelineSharedCounter(t *testing.T) {
	counter := NewIdentityCounter(DefaultMaxIdentityValue)
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	first := newTestPipeline(t, detector, nil, &recordingSink{}, WithIdentityCounter(counter))
	second := newTestPipeline(t, detector, nil, &recordingSink{}, WithIdentityCounter(counter))

	a, err := first.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	b, err := second.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, a[0].ID)
	assert.Equal(t, 2, b[0].ID)

	independent := newTestPipeline(t, detector, nil, &recordingSink{})
	c, err := independent.ProcessFrame(context.Background(), pngFrame(t, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, c[0].ID)
}

func TestNewPipelineValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinOverlapPercent = 120
	_, err := NewPipeline(cfg, &staticDetector{}, nil, &recordingSink{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewPipeline(DefaultConfig(), nil, nil, &recordingSink{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewPipeline(DefaultConfig(), &staticDetector{}, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

// sliceSource yields prepared frames and then io.EOF
type sliceSource struct {
	frames []RawFrame
}

func (s *sliceSource) Next(ctx context.Context) (RawFrame, error) {
	if len(s.frames) == 0 {
		return RawFrame{}, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame, nil
}

func TestPipelineRun(t *testing.T) {
	detector := &staticDetector{detections: []Detection{NewDetection(1, NewRect(0, 0, 10, 10))}}
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, detector, nil, sink)

	src := &sliceSource{frames: []RawFrame{
		pngFrame(t, 0),
		{Meta: NewFrameMeta(1, time.Now()), Data: nil},
		pngFrame(t, 2),
	}}
	require.NoError(t, pipeline.Run(context.Background(), src))

	require.Len(t, sink.frames, 2)
	assert.Equal(t, uint64(0), sink.frames[0].meta.Seq)
	assert.Equal(t, uint64(2), sink.frames[1].meta.Seq)
	// No predictions: every frame mints a new identity
	assert.Equal(t, 1, sink.frames[0].dets[0].ID)
	assert.Equal(t, 2, sink.frames[1].dets[0].ID)

	stats := pipeline.Stats()
	assert.Equal(t, uint64(2), stats.FramesProcessed)
	assert.Equal(t, uint64(1), stats.FramesSkipped)
}

func TestPipelineRunCancelled(t *testing.T) {
	pipeline := newTestPipeline(t, &staticDetector{}, nil, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pipeline.Run(ctx, &sliceSource{frames: []RawFrame{pngFrame(t, 0)}})
	assert.True(t, errors.Is(err, context.Canceled))
}

// movingDetector returns one box shifted by one pixel per call
type movingDetector struct {
	frame int
}

func (d *movingDetector) Detect(ctx context.Context, frame image.Image, roi Rectangle, hint []Prediction) ([]Detection, error) {
	det := NewDetection(1, NewRect(10+float64(d.frame), 10, 50, 50))
	d.frame++
	return []Detection{det}, nil
}

func TestPipelineWithKalmanPredictor(t *testing.T) {
	predictor := NewKalmanPredictor(1.0/25.0, 5)
	sink := &recordingSink{}
	pipeline := newTestPipeline(t, &movingDetector{}, predictor, MultiSink{sink, predictor})

	for i := 0; i < 20; i++ {
		_, err := pipeline.ProcessFrame(context.Background(), pngFrame(t, uint64(i)))
		require.NoError(t, err)
	}

	require.Len(t, sink.frames, 20)
	for _, frame := range sink.frames {
		require.Len(t, frame.dets, 1)
		assert.Equal(t, 1, frame.dets[0].ID, "frame %d", frame.meta.Seq)
	}
	assert.Equal(t, uint64(1), pipeline.Stats().IdentitiesMinted)

	tracks := predictor.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].ID)
	assert.Len(t, tracks[0].Track, 20)
}
