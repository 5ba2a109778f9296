// Package handlers implements the HTTP control plane on top of the store,
// the worker and the analytics service.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/worker"
	"github.com/your-org/peoplecounter/pkg/dto"
)

// WorkerControl is the slice of the CV worker the handlers need.
type WorkerControl interface {
	Status() dto.SystemStatus
	Reconfigure(ctx context.Context, req worker.ReconfigureRequest) error
	Reset(ctx context.Context, clearGallery bool) error
}

// ObjectStore is the slice of snapshot object storage the event endpoints
// need.
type ObjectStore interface {
	GetSnapshot(ctx context.Context, key string) ([]byte, error)
	ListSnapshots(ctx context.Context, prefix string) ([]string, error)
	DeleteSnapshots(ctx context.Context, keys []string) error
}

// Pinger reports liveness of an attached event bridge.
type Pinger interface {
	Ping() error
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.ErrorResponse{Code: code, Message: message})
}
