package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through the counting pipeline",
	})

	EventsCounted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "events_counted_total",
		Help:      "Total number of confirmed line crossings",
	}, []string{"direction"})

	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "store_write_failures_total",
		Help:      "Events that could not be persisted and were published with a placeholder id",
	})

	BusDroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "bus_dropped_messages_total",
		Help:      "Messages head-dropped because a subscriber buffer was full",
	}, []string{"type"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pc",
		Name:      "inference_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CameraUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "camera_up",
		Help:      "1 while the frame source is online",
	})

	ActiveTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "active_tracks",
		Help:      "Tracks currently held by the counting engine",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pc",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pc",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	BridgePublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pc",
		Name:      "bridge_publish_failures_total",
		Help:      "Event bridge publish failures by sink",
	}, []string{"sink"})
)
