package objdet

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Stats holds counters of the frame cycle
type Stats struct {
	FramesProcessed   uint64
	FramesSkipped     uint64
	DecodeFailures    uint64
	PredictorFailures uint64
	DetectorFailures  uint64
	SinkFailures      uint64
	IdentitiesMinted  uint64
}

// Pipeline runs the frame cycle: fetch predictions, detect, match, assign identities, publish.
// Frames are processed strictly one after another, even if ProcessFrame is called from several goroutines.
type Pipeline struct {
	mu sync.Mutex

	cfg      Config
	detector Detector
	provider PredictionProvider
	sink     Sink
	matcher  Matcher
	decoder  FrameDecoder
	counter  *IdentityCounter
	logger   *zap.Logger
	clock    func() time.Time
	stats    Stats
}

// PipelineOption customizes Pipeline
type PipelineOption func(*Pipeline)

// WithLogger sets logger. Default is no-op logger
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithIdentityCounter injects identity counter. Pipelines sharing a counter share the identity space
func WithIdentityCounter(counter *IdentityCounter) PipelineOption {
	return func(p *Pipeline) {
		if counter != nil {
			p.counter = counter
		}
	}
}

// WithMatcher replaces matcher built from config
func WithMatcher(matcher Matcher) PipelineOption {
	return func(p *Pipeline) {
		if matcher != nil {
			p.matcher = matcher
		}
	}
}

// WithDecoder replaces default ImageDecoder
func WithDecoder(decoder FrameDecoder) PipelineOption {
	return func(p *Pipeline) {
		if decoder != nil {
			p.decoder = decoder
		}
	}
}

// WithClock sets time source used for frames without timestamp
func WithClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPipeline creates frame cycle orchestrator. Nil provider means "no predictions ever".
func NewPipeline(cfg Config, detector Detector, provider PredictionProvider, sink Sink, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "detector must be provided")
	}
	if sink == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "sink must be provided")
	}
	if provider == nil {
		provider = NoPredictions
	}
	p := &Pipeline{
		cfg:      cfg,
		detector: detector,
		provider: provider,
		sink:     sink,
		matcher:  NewOverlapMatcher(cfg.MinOverlapPercent, cfg.MatchingAlgorithm()),
		decoder:  ImageDecoder{},
		counter:  NewIdentityCounter(cfg.MaxIdentityValue),
		logger:   zap.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// IdentityCounter returns counter used by the pipeline
func (p *Pipeline) IdentityCounter() *IdentityCounter {
	return p.counter
}

// Stats returns snapshot of counters
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ProcessFrame runs one full cycle for the frame and returns identified detections.
//
// Decode and detector failures skip the frame. Prediction failures are logged and the frame is
// processed with no predictions (every detection gets a new identity). Sink failure is returned
// after identities have been assigned.
func (p *Pipeline) ProcessFrame(ctx context.Context, raw RawFrame) ([]Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	meta := raw.Meta
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = p.clock()
	}
	raw.Meta = meta
	log := p.logger.With(zap.Uint64("seq", meta.Seq), zap.String("frame_id", meta.ID.String()))

	img, err := p.decoder.Decode(raw)
	if err != nil {
		if !IsFrameDecode(err) {
			err = wrapKind(ErrFrameDecode, err, "Can't decode frame")
		}
		p.stats.FramesSkipped++
		p.stats.DecodeFailures++
		log.Warn("Frame skipped", zap.Error(err))
		return nil, err
	}

	predictions := p.fetchPredictions(ctx, meta.Timestamp, log)

	found, err := p.detector.Detect(ctx, img, Rectangle{}, predictions)
	if err != nil {
		p.stats.FramesSkipped++
		p.stats.DetectorFailures++
		err = wrapKind(ErrDetector, err, "Can't detect objects")
		log.Error("Frame skipped", zap.Error(err))
		return nil, err
	}

	// Buffer owned by this cycle only
	detections := make([]Detection, len(found))
	copy(detections, found)
	for i := range detections {
		detections[i].ID = IDUnassigned
	}

	matches := p.matcher.Match(detections, predictions)
	minted := AssignIdentities(detections, matches, predictions, p.counter)
	p.stats.IdentitiesMinted += uint64(minted)
	p.stats.FramesProcessed++
	log.Debug("Frame processed",
		zap.Int("detections", len(detections)),
		zap.Int("predictions", len(predictions)),
		zap.Int("new_identities", minted),
	)

	if err := p.sink.Publish(ctx, meta, detections); err != nil {
		p.stats.SinkFailures++
		err = wrapKind(ErrSink, err, "Can't publish detections")
		log.Error("Publish failed", zap.Error(err))
		return detections, err
	}
	return detections, nil
}

type predictResult struct {
	predictions []Prediction
	err         error
}

// fetchPredictions never fails: any problem degrades into an empty prediction set
func (p *Pipeline) fetchPredictions(ctx context.Context, ts time.Time, log *zap.Logger) []Prediction {
	var (
		predictions []Prediction
		err         error
	)
	if p.cfg.PredictTimeout > 0 {
		predictCtx, cancel := context.WithTimeout(ctx, p.cfg.PredictTimeout)
		defer cancel()
		// Buffered, so a provider ignoring ctx does not block forever on send
		resultCh := make(chan predictResult, 1)
		go func() {
			preds, err := p.provider.Predict(predictCtx, ts, AnyID, AnyID)
			resultCh <- predictResult{predictions: preds, err: err}
		}()
		select {
		case res := <-resultCh:
			predictions, err = res.predictions, res.err
		case <-predictCtx.Done():
			err = predictCtx.Err()
		}
	} else {
		predictions, err = p.provider.Predict(ctx, ts, AnyID, AnyID)
	}
	if err != nil {
		if !IsServiceUnavailable(err) {
			err = wrapKind(ErrServiceUnavailable, err, "Can't obtain predictions")
		}
		p.stats.PredictorFailures++
		log.Error("Predictions are not available, treating every detection as new", zap.Error(err))
		return nil
	}
	out := make([]Prediction, len(predictions))
	copy(out, predictions)
	return out
}

// Run processes frames from src until it is exhausted (io.EOF) or ctx is done.
// Per-frame errors are logged by ProcessFrame and never stop the loop.
func (p *Pipeline) Run(ctx context.Context, src FrameSource) error {
	p.logger.Info("Pipeline is running...",
		zap.Int("min_overlap_percent", p.cfg.MinOverlapPercent),
		zap.Int("max_identity_value", p.counter.Max()),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				stats := p.Stats()
				p.logger.Info("Frame source exhausted",
					zap.Uint64("processed", stats.FramesProcessed),
					zap.Uint64("skipped", stats.FramesSkipped),
				)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errors.Wrap(err, "Can't read next frame")
		}
		_, _ = p.ProcessFrame(ctx, raw)
	}
}
