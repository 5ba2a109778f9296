// Package health polls the stream proxy (MediaMTX HLS/WebRTC endpoints) so
// /health can report whether the dashboard's video path is alive.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/your-org/peoplecounter/internal/config"
)

// Status of the stream proxy as last observed.
type Status string

const (
	StatusDisabled Status = "disabled" // mjpeg mode, nothing to check
	StatusUnknown  Status = "unknown"  // no probe completed yet
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
)

const probeTimeout = 5 * time.Second

// Checker probes the configured proxy endpoint on an interval. While the
// proxy is failing, probes back off exponentially from 1 s up to 60 s
// instead of hammering a dead host.
type Checker struct {
	cfg    config.StreamConfig
	client *http.Client
	status atomic.Value // Status
}

func NewChecker(cfg config.StreamConfig) *Checker {
	c := &Checker{
		cfg:    cfg,
		client: &http.Client{Timeout: probeTimeout},
	}
	if c.enabled() {
		c.status.Store(StatusUnknown)
	} else {
		c.status.Store(StatusDisabled)
	}
	return c
}

func (c *Checker) enabled() bool {
	return c.cfg.Mode == "hls" || c.cfg.Mode == "webrtc"
}

// Status returns the last observed proxy state.
func (c *Checker) Status() Status {
	return c.status.Load().(Status)
}

// Mode returns the configured stream mode.
func (c *Checker) Mode() string { return c.cfg.Mode }

// Run probes until ctx is cancelled. It is a no-op for mjpeg mode.
func (c *Checker) Run(ctx context.Context) {
	if !c.enabled() {
		return
	}

	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := c.probe(ctx)
		if err != nil {
			if c.Status() != StatusOffline {
				slog.Warn("stream proxy unreachable", "mode", c.cfg.Mode, "error", err)
			}
			c.status.Store(StatusOffline)
		} else {
			if c.Status() == StatusOffline {
				slog.Info("stream proxy recovered", "mode", c.cfg.Mode)
			}
			c.status.Store(StatusOnline)
			bo.Reset()
		}

		wait := interval
		if err != nil {
			wait = bo.NextBackOff()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Checker) probe(ctx context.Context) error {
	switch c.cfg.Mode {
	case "hls":
		return c.probeHLS(ctx)
	case "webrtc":
		return c.probeWebRTC(ctx)
	default:
		return nil
	}
}

// probeHLS fetches the playlist and checks it actually is an M3U8 document.
func (c *Checker) probeHLS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HLSURL, nil)
	if err != nil {
		return fmt.Errorf("build hls request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch hls playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hls playlist status %d", resp.StatusCode)
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "mpegurl") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read hls playlist: %w", err)
	}
	if !strings.Contains(string(body), "#EXTM3U") {
		return fmt.Errorf("hls response is not an m3u8 playlist")
	}
	return nil
}

// probeWebRTC only checks the signalling endpoint answers; MediaMTX returns
// 404 on the bare path when the server is up but the path has no reader.
func (c *Checker) probeWebRTC(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.WebRTCURL, nil)
	if err != nil {
		return fmt.Errorf("build webrtc request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach webrtc endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("webrtc endpoint status %d", resp.StatusCode)
	}
	return nil
}
