package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LdDl/objdet-go/objdet"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	framesDir  = flag.String("frames", "", "Directory with PNG/JPEG/GIF frames")
	outPath    = flag.String("out", "detections.csv", "Output CSV with identified detections")
	tracksPath = flag.String("tracks", "", "Optional CSV with final predictor tracks")
	fps        = flag.Float64("fps", 25.0, "Frame rate of the input sequence")
	devMode    = flag.Bool("dev", false, "Human-readable debug logging")
)

// sampleDetector always returns a single fake detection in the middle of the frame
type sampleDetector struct {
	classID int
}

func (d sampleDetector) Detect(ctx context.Context, frame image.Image, roi objdet.Rectangle, hint []objdet.Prediction) ([]objdet.Detection, error) {
	bounds := objdet.NewRectFrom(frame.Bounds())
	if !roi.Empty() {
		bounds = bounds.Intersect(roi)
	}
	bbox := objdet.NewRect(
		bounds.X+bounds.Width/4.0,
		bounds.Y+bounds.Height/4.0,
		bounds.Width/2.0,
		bounds.Height/2.0,
	)
	det := objdet.NewDetection(d.classID, bbox)
	det.Score = 1.0
	return []objdet.Detection{det}, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func writeTracksCSV(path string, tracks []objdet.TrackSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := fmt.Fprintln(file, "id;class;track"); err != nil {
		return err
	}
	for _, track := range tracks {
		data := make([]string, len(track.Track))
		for idx, pt := range track.Track {
			data[idx] = fmt.Sprintf("%f,%f", pt.X, pt.Y)
		}
		if _, err := fmt.Fprintf(file, "%d;%d;%s\n", track.ID, track.ClassID, strings.Join(data, "|")); err != nil {
			return err
		}
	}
	return nil
}

// pipelineFailed reports whether Run stopped for another reason than cancellation
func pipelineFailed(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func main() {
	flag.Parse()

	logger, err := newLogger(*devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Can't create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *framesDir == "" {
		logger.Fatal("Frames directory is required")
	}

	cfg := objdet.DefaultConfig()
	if *configPath != "" {
		cfg, err = objdet.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal("Can't load config", zap.Error(err))
		}
	}

	interval := time.Second
	if *fps > 0 {
		interval = time.Duration(float64(time.Second) / *fps)
	}
	src, err := objdet.NewDirSource(*framesDir, interval, ".png", ".jpg", ".jpeg", ".gif")
	if err != nil {
		logger.Fatal("Can't open frames", zap.Error(err))
	}

	outFile, err := os.Create(*outPath)
	if err != nil {
		logger.Fatal("Can't create output file", zap.Error(err))
	}
	defer outFile.Close()

	predictor := objdet.NewKalmanPredictor(interval.Seconds(), cfg.MaxNoMatch)
	sink := objdet.MultiSink{objdet.NewCSVSink(outFile), predictor}

	pipeline, err := objdet.NewPipeline(cfg, sampleDetector{classID: 1}, predictor, sink, objdet.WithLogger(logger))
	if err != nil {
		logger.Fatal("Can't create pipeline", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Sample detector is running...", zap.Int("frames", src.Len()), zap.String("algorithm", cfg.Algorithm))
	if err := pipeline.Run(ctx, src); pipelineFailed(err) {
		logger.Error("Pipeline stopped", zap.Error(err))
	}

	stats := pipeline.Stats()
	logger.Info("Done",
		zap.Uint64("processed", stats.FramesProcessed),
		zap.Uint64("skipped", stats.FramesSkipped),
		zap.Uint64("predictor_failures", stats.PredictorFailures),
		zap.Uint64("identities_minted", stats.IdentitiesMinted),
		zap.Int("last_identity", pipeline.IdentityCounter().Last()),
	)

	if *tracksPath != "" {
		if err := writeTracksCSV(*tracksPath, predictor.Tracks()); err != nil {
			logger.Error("Can't write tracks", zap.Error(err))
		}
	}
}
