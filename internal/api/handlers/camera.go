package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/source"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/internal/worker"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type CameraHandler struct {
	store     storage.Store
	ctl       WorkerControl
	proxyBase string
}

func NewCameraHandler(store storage.Store, ctl WorkerControl, proxyBase string) *CameraHandler {
	return &CameraHandler{store: store, ctl: ctl, proxyBase: proxyBase}
}

func (h *CameraHandler) GetActive(c *gin.Context) {
	cs, err := h.store.ActiveCameraSettings(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "no active camera settings")
			return
		}
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to load camera settings")
		return
	}
	c.JSON(http.StatusOK, h.toResponse(cs))
}

func (h *CameraHandler) List(c *gin.Context) {
	rows, err := h.store.ListCameraSettings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to list camera settings")
		return
	}
	resp := dto.CameraSettingsListResponse{Settings: make([]dto.CameraSettingsResponse, len(rows)), Total: len(rows)}
	for i := range rows {
		resp.Settings[i] = h.toResponse(&rows[i])
	}
	c.JSON(http.StatusOK, resp)
}

// Create stores a new settings row, activates it and switches the live
// source to it.
func (h *CameraHandler) Create(c *gin.Context) {
	var req dto.CameraSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	cs, err := settingsFromRequest(&req)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.store.CreateCameraSettings(c.Request.Context(), cs); err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to save camera settings")
		return
	}

	if err := h.ctl.Reconfigure(c.Request.Context(), worker.ReconfigureRequest{Settings: cs}); err != nil {
		// The row is saved and active; the worker keeps retrying the old
		// source until the camera comes up.
		respondError(c, http.StatusBadGateway, "camera_unavailable", err.Error())
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(cs))
}

func (h *CameraHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "invalid settings id")
		return
	}
	var req dto.CameraSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	cs, err := settingsFromRequest(&req)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.store.UpdateCameraSettings(c.Request.Context(), id, cs); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "camera settings not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to update camera settings")
		return
	}

	updated, err := h.store.GetCameraSettings(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "failed to reload camera settings")
		return
	}
	if updated.IsActive {
		if err := h.ctl.Reconfigure(c.Request.Context(), worker.ReconfigureRequest{Settings: updated}); err != nil {
			respondError(c, http.StatusBadGateway, "camera_unavailable", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, h.toResponse(updated))
}

// Switch changes the live source to a stored settings row or a raw URL. The
// worker opens the new source before closing the old one, so a failed switch
// leaves the camera running.
func (h *CameraHandler) Switch(c *gin.Context) {
	var req dto.SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	var wreq worker.ReconfigureRequest
	wreq.Reset = req.Reset
	switch {
	case req.SettingsID != nil:
		cs, err := h.store.GetCameraSettings(c.Request.Context(), *req.SettingsID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				respondError(c, http.StatusNotFound, "not_found", "camera settings not found")
				return
			}
			respondError(c, http.StatusInternalServerError, "storage_error", "failed to load camera settings")
			return
		}
		if err := h.store.ActivateCameraSettings(c.Request.Context(), cs.ID); err != nil {
			respondError(c, http.StatusInternalServerError, "storage_error", "failed to activate camera settings")
			return
		}
		cs.IsActive = true
		wreq.Settings = cs
	case req.Source != "":
		wreq.RawInput = req.Source
	default:
		respondError(c, http.StatusBadRequest, "validation_error", "either settings_id or source is required")
		return
	}

	if err := h.ctl.Reconfigure(c.Request.Context(), wreq); err != nil {
		respondError(c, http.StatusBadGateway, "camera_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, dto.StatusMessage{Message: "camera source switched"})
}

func (h *CameraHandler) toResponse(cs *models.CameraSettings) dto.CameraSettingsResponse {
	resp := dto.CameraSettingsResponse{
		ID:          cs.ID,
		Kind:        string(cs.Kind),
		Device:      cs.Device,
		IP:          cs.IP,
		Port:        cs.Port,
		Username:    cs.Username,
		Channel:     cs.Channel,
		Subtype:     cs.Subtype,
		ProxiedPath: cs.ProxiedPath,
		LineX:       cs.LineX,
		DirectionIn: cs.DirectionIn,
		IsActive:    cs.IsActive,
		CreatedAt:   cs.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   cs.UpdatedAt.Format(time.RFC3339),
	}
	if url, err := source.StreamURL(cs, h.proxyBase); err == nil {
		resp.SourceURL = source.MaskCredentials(url)
	}
	return resp
}

func settingsFromRequest(req *dto.CameraSettingsRequest) (*models.CameraSettings, error) {
	cs := &models.CameraSettings{
		Kind:        models.CameraKind(req.Kind),
		Device:      req.Device,
		IP:          req.IP,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		Channel:     req.Channel,
		Subtype:     req.Subtype,
		ProxiedPath: req.ProxiedPath,
		LineX:       req.LineX,
		DirectionIn: req.DirectionIn,
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}
