package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hybridgroup/mjpeg"
)

// VideoHandler serves the annotated preview as multipart/x-mixed-replace.
// The worker pushes frames into the stream; clients just attach.
type VideoHandler struct {
	stream *mjpeg.Stream
}

func NewVideoHandler(stream *mjpeg.Stream) *VideoHandler {
	return &VideoHandler{stream: stream}
}

func (h *VideoHandler) Feed(c *gin.Context) {
	if h.stream == nil {
		respondError(c, http.StatusNotImplemented, "not_supported", "mjpeg preview is disabled")
		return
	}
	h.stream.ServeHTTP(c.Writer, c.Request)
}
