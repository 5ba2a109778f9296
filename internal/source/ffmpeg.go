package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	maxFrameBytes = 10 * 1024 * 1024
	closeGrace    = 2 * time.Second
)

// FFmpegSource shells out to ffmpeg and recovers individual JPEG frames from
// its MJPEG stdout stream. A reader goroutine feeds a capacity-1 latest-wins
// channel, so frames are dropped at the source boundary when the consumer is
// slow.
type FFmpegSource struct {
	input string
	fps   int
	width int

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan Frame
	done   chan struct{}
	err    error
	closed bool
}

// NewFFmpegSource builds a source for the given ffmpeg input. fps and width
// bound the extraction rate and the decoded frame width; zero values fall
// back to 5 fps and the native width.
func NewFFmpegSource(input string, fps, width int) *FFmpegSource {
	if fps <= 0 {
		fps = 5
	}
	return &FFmpegSource{input: input, fps: fps, width: width}
}

func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrEndOfStream
	}
	if s.cmd != nil {
		return fmt.Errorf("source already open")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, "ffmpeg", s.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: ffmpeg stdout pipe: %v", ErrTransient, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: ffmpeg stderr pipe: %v", ErrTransient, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start ffmpeg: %v", ErrTransient, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.frames = make(chan Frame, 1)
	s.done = make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()
	go s.readLoop(runCtx, stdout)

	slog.Info("ffmpeg source opened", "input", MaskCredentials(s.input), "fps", s.fps, "width", s.width)
	return nil
}

func (s *FFmpegSource) args() []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(s.input, "rtsp://") || strings.HasPrefix(s.input, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000",
			"-timeout", "5000000",
		)
	case strings.HasPrefix(s.input, "http://") || strings.HasPrefix(s.input, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	default:
		// Local V4L2 device path.
		args = append(args, "-f", "v4l2")
	}

	scale := "scale=-1:-1"
	if s.width > 0 {
		scale = fmt.Sprintf("scale=%d:-1", s.width)
	}
	return append(args,
		"-i", s.input,
		"-vf", fmt.Sprintf("fps=%d,%s", s.fps, scale),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// readLoop scans stdout for SOI/EOI-delimited JPEGs and keeps only the
// newest frame pending.
func (s *FFmpegSource) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(s.done)

	reader := bufio.NewReaderSize(stdout, 512*1024)
	framesRead := 0
	for {
		if ctx.Err() != nil {
			s.finish(ErrEndOfStream)
			return
		}

		if err := findJPEGStart(reader); err != nil {
			s.finish(readEndError(err, framesRead))
			return
		}
		data, err := readUntilJPEGEnd(reader)
		if err != nil {
			s.finish(readEndError(err, framesRead))
			return
		}
		framesRead++

		frame := Frame{Data: data, CapturedAt: time.Now()}
		select {
		case s.frames <- frame:
		default:
			// Consumer is behind: replace the pending frame.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

func readEndError(err error, framesRead int) error {
	if err == io.EOF {
		if framesRead > 0 {
			return ErrEndOfStream
		}
		return fmt.Errorf("%w: ffmpeg produced no frames", ErrTransient)
	}
	return fmt.Errorf("%w: read frame: %v", ErrTransient, err)
}

func (s *FFmpegSource) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// NextFrame returns the newest available frame. It blocks until a frame
// arrives, the context is cancelled, or the stream ends.
func (s *FFmpegSource) NextFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	frames, done := s.frames, s.done
	s.mu.Unlock()
	if frames == nil {
		return Frame{}, fmt.Errorf("source not open")
	}

	select {
	case frame := <-frames:
		return frame, nil
	case <-done:
		// Drain the last frame if the reader parked one before exiting.
		select {
		case frame := <-frames:
			return frame, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = ErrEndOfStream
		}
		return Frame{}, err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close terminates ffmpeg and waits for it to exit, with a bounded grace
// period.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd, cancel := s.cmd, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(closeGrace):
		slog.Warn("ffmpeg did not exit within grace period", "input", MaskCredentials(s.input))
	}
	return nil
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
		}
	}
}
