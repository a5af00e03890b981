package objdet

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CSVSink writes every identified detection as a row:
// frame_id;seq;timestamp;id;class;x;y;w;h;score
type CSVSink struct {
	mu            sync.Mutex
	writer        *csv.Writer
	headerWritten bool
}

// NewCSVSink creates sink writing into w
func NewCSVSink(w io.Writer) *CSVSink {
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	return &CSVSink{
		writer: writer,
	}
}

// Publish implements Sink
func (sink *CSVSink) Publish(ctx context.Context, meta FrameMeta, dets []Detection) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.headerWritten {
		err := sink.writer.Write([]string{"frame_id", "seq", "timestamp", "id", "class", "x", "y", "w", "h", "score"})
		if err != nil {
			return errors.Wrap(err, "Can't write CSV header")
		}
		sink.headerWritten = true
	}
	for _, det := range dets {
		err := sink.writer.Write([]string{
			meta.ID.String(),
			strconv.FormatUint(meta.Seq, 10),
			meta.Timestamp.Format(time.RFC3339Nano),
			strconv.Itoa(det.ID),
			strconv.Itoa(det.ClassID),
			fmt.Sprintf("%f", det.BBox.X),
			fmt.Sprintf("%f", det.BBox.Y),
			fmt.Sprintf("%f", det.BBox.Width),
			fmt.Sprintf("%f", det.BBox.Height),
			fmt.Sprintf("%f", det.Score),
		})
		if err != nil {
			return errors.Wrapf(err, "Can't write detection %d", det.ID)
		}
	}
	sink.writer.Flush()
	return errors.Wrap(sink.writer.Error(), "Can't flush CSV")
}
