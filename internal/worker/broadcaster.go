package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/peoplecounter/internal/analytics"
	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/pkg/dto"
)

const (
	statsInterval     = 2 * time.Second
	analyticsInterval = 30 * time.Second
)

// Broadcaster periodically publishes live stats and analytics snapshots on
// the bus so WebSocket clients stay current without polling.
type Broadcaster struct {
	worker    *Worker
	analytics *analytics.Service
	bus       *bus.Bus

	statsEvery     time.Duration
	analyticsEvery time.Duration
}

func NewBroadcaster(w *Worker, a *analytics.Service, b *bus.Bus) *Broadcaster {
	return &Broadcaster{
		worker:         w,
		analytics:      a,
		bus:            b,
		statsEvery:     statsInterval,
		analyticsEvery: analyticsInterval,
	}
}

// Run publishes until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	stats := time.NewTicker(b.statsEvery)
	defer stats.Stop()
	analyticsTick := time.NewTicker(b.analyticsEvery)
	defer analyticsTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			b.publishStats()
		case <-analyticsTick.C:
			b.publishAnalytics(ctx)
		}
	}
}

func (b *Broadcaster) publishStats() {
	st := b.worker.Status()
	b.bus.Publish(bus.Message{Type: bus.TypeStats, Data: dto.StatsResponse{
		InCount:      st.InCount,
		OutCount:     st.OutCount,
		ActiveTracks: st.ActiveTracks,
		CameraStatus: st.CameraStatus,
		FPS:          st.FPS,
	}})
}

func (b *Broadcaster) publishAnalytics(ctx context.Context) {
	snap, err := b.analytics.Snapshot(ctx)
	if err != nil {
		slog.Warn("analytics snapshot failed", "error", err)
		return
	}
	b.bus.Publish(bus.Message{Type: bus.TypeAnalytics, Data: snap})
}
