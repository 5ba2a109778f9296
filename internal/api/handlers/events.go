package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/pkg/dto"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

type EventsHandler struct {
	store     storage.Store
	snapshots ObjectStore // nil when MinIO is not configured
}

func NewEventsHandler(store storage.Store, snapshots ObjectStore) *EventsHandler {
	return &EventsHandler{store: store, snapshots: snapshots}
}

func (h *EventsHandler) List(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to load events")
		return
	}

	resp := dto.EventListResponse{Events: make([]dto.EventResponse, len(events)), Total: len(events)}
	for i, ev := range events {
		resp.Events[i] = dto.EventResponse{
			ID:        ev.ID,
			Timestamp: ev.Timestamp.Format(time.RFC3339),
			TrackID:   ev.TrackID,
			PersonID:  ev.PersonID,
			Direction: string(ev.Direction),
		}
		if ev.SnapshotKey != "" && h.snapshots != nil {
			resp.Events[i].SnapshotURL = "/api/events/snapshot?key=" + url.QueryEscape(ev.SnapshotKey)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Snapshot serves one annotated crossing frame from object storage.
func (h *EventsHandler) Snapshot(c *gin.Context) {
	if h.snapshots == nil {
		respondError(c, http.StatusNotImplemented, "not_supported", "snapshot storage is not configured")
		return
	}
	key := c.Query("key")
	if key == "" {
		respondError(c, http.StatusBadRequest, "validation_error", "key is required")
		return
	}
	data, err := h.snapshots.GetSnapshot(c.Request.Context(), key)
	if err != nil {
		respondError(c, http.StatusNotFound, "not_found", "snapshot not found")
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Clear wipes the event table and, when object storage is configured, the
// snapshots the cleared events pointed at. A failed purge only logs: the rows
// are gone either way and orphaned objects are harmless.
func (h *EventsHandler) Clear(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.store.ClearEvents(ctx); err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to clear events")
		return
	}
	if h.snapshots != nil {
		if err := h.purgeSnapshots(ctx); err != nil {
			slog.Warn("purge crossing snapshots", "error", err)
		}
	}
	c.JSON(http.StatusOK, dto.StatusMessage{Message: "events cleared"})
}

func (h *EventsHandler) purgeSnapshots(ctx context.Context) error {
	keys, err := h.snapshots.ListSnapshots(ctx, storage.SnapshotPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return h.snapshots.DeleteSnapshots(ctx, keys)
}
