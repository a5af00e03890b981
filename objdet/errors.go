package objdet

import (
	"github.com/pkg/errors"
)

var (
	// ErrFrameDecode is returned when input frame can't be decoded. The frame is skipped.
	ErrFrameDecode = errors.New("frame decode error")
	// ErrServiceUnavailable is returned when prediction round-trip can't complete.
	// The frame is processed with an empty prediction set.
	ErrServiceUnavailable = errors.New("prediction service unavailable")
	// ErrDetector is returned when detector fails on a frame
	ErrDetector = errors.New("detector failure")
	// ErrSink is returned when output sink rejects detections
	ErrSink = errors.New("sink failure")
	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("invalid config")
)

// IsFrameDecode reports whether err is (or wraps) ErrFrameDecode
func IsFrameDecode(err error) bool {
	return errors.Is(err, ErrFrameDecode)
}

// IsServiceUnavailable reports whether err is (or wraps) ErrServiceUnavailable
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// wrapKind attaches sentinel kind to the cause, keeping both reachable with errors.Is
func wrapKind(kind, cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(kind, msg)
	}
	return &kindError{kind: kind, cause: errors.Wrap(cause, msg)}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func (e *kindError) Cause() error {
	return e.cause
}
