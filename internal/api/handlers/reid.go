package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/reid"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/pkg/dto"
)

// SimilarSearcher is the pgvector-backed nearest-neighbour query; only the
// Postgres store provides it.
type SimilarSearcher interface {
	SimilarPersons(ctx context.Context, personID string, limit int) ([]storage.SimilarPerson, error)
}

type ReIDHandler struct {
	gallery       *reid.Gallery   // nil when Re-ID is disabled
	similar       SimilarSearcher // nil on SQLite
	defaultMaxAge int             // days, for cleanup
}

func NewReIDHandler(gallery *reid.Gallery, similar SimilarSearcher, defaultMaxAgeDays int) *ReIDHandler {
	return &ReIDHandler{gallery: gallery, similar: similar, defaultMaxAge: defaultMaxAgeDays}
}

func (h *ReIDHandler) requireGallery(c *gin.Context) bool {
	if h.gallery == nil {
		respondError(c, http.StatusNotImplemented, "not_supported", "re-identification is disabled")
		return false
	}
	return true
}

func (h *ReIDHandler) List(c *gin.Context) {
	if !h.requireGallery(c) {
		return
	}
	persons := h.gallery.Persons()
	resp := dto.PersonListResponse{Persons: make([]dto.PersonResponse, len(persons)), Total: len(persons)}
	for i := range persons {
		resp.Persons[i] = personResponse(&persons[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReIDHandler) Get(c *gin.Context) {
	if !h.requireGallery(c) {
		return
	}
	p, ok := h.gallery.Person(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "not_found", "person not found")
		return
	}
	c.JSON(http.StatusOK, personResponse(&p))
}

// Similar runs a pgvector nearest-neighbour search; SQLite deployments get a
// structured 501.
func (h *ReIDHandler) Similar(c *gin.Context) {
	if !h.requireGallery(c) {
		return
	}
	if h.similar == nil {
		respondError(c, http.StatusNotImplemented, "not_supported", "similarity search requires the postgres backend")
		return
	}
	limit := 5
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := h.similar.SimilarPersons(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "similarity search failed")
		return
	}
	resp := dto.SimilarPersonsResponse{Persons: make([]dto.SimilarPerson, len(rows)), Total: len(rows)}
	for i, row := range rows {
		resp.Persons[i] = dto.SimilarPerson{PersonID: row.PersonID, Score: row.Score}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReIDHandler) Clear(c *gin.Context) {
	if !h.requireGallery(c) {
		return
	}
	h.gallery.Clear()
	c.JSON(http.StatusOK, dto.StatusMessage{Message: "gallery cleared"})
}

func (h *ReIDHandler) Cleanup(c *gin.Context) {
	if !h.requireGallery(c) {
		return
	}
	maxAge := h.defaultMaxAge
	if raw := c.Query("max_age_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "validation_error", "max_age_days must be a positive integer")
			return
		}
		maxAge = n
	}
	removed := h.gallery.CleanupOlderThan(maxAge)
	c.JSON(http.StatusOK, dto.ReIDCleanupResponse{Removed: removed})
}

func personResponse(p *reid.Person) dto.PersonResponse {
	directions := make([]string, 0, len(p.Counted))
	for d := range p.Counted {
		directions = append(directions, string(d))
	}
	sort.Strings(directions)
	return dto.PersonResponse{
		PersonID:          p.PersonID,
		FirstSeen:         p.FirstSeen.Format(time.RFC3339),
		LastSeen:          p.LastSeen.Format(time.RFC3339),
		AppearanceCount:   p.AppearanceCount,
		TrackIDs:          p.TrackIDs,
		CountedDirections: directions,
	}
}
