// Package source turns a camera (local device, RTSP camera or proxied
// stream) into a sequence of JPEG frames. Frames are never queued: a slow
// consumer always receives the newest frame the producer has seen.
package source

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEndOfStream marks a source instance as finished; it must be
	// re-created to read again.
	ErrEndOfStream = errors.New("source: end of stream")
	// ErrTransient wraps read or open failures worth retrying with backoff.
	ErrTransient = errors.New("source: transient failure")
)

// Frame is one JPEG-encoded video frame.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Source is a stream of frames. Open must be called once before NextFrame;
// Close is safe to call at any point and more than once.
type Source interface {
	Open(ctx context.Context) error
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}
