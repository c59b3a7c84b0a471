package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/calcore/internal/service"
	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
	"github.com/noah-isme/calcore/pkg/response"
)

// FreeBusyHandler reports merged busy intervals for a collection.
type FreeBusyHandler struct {
	sessions *txn.Factory
	freebusy *service.FreeBusyService
}

// NewFreeBusyHandler creates a new handler.
func NewFreeBusyHandler(sessions *txn.Factory, freebusy *service.FreeBusyService) *FreeBusyHandler {
	return &FreeBusyHandler{sessions: sessions, freebusy: freebusy}
}

// Report returns the busy periods of a collection between start and end.
func (h *FreeBusyHandler) Report(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "path query parameter is required"))
		return
	}
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "start must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "end must be RFC3339"))
		return
	}

	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	periods, err := h.freebusy.BusyPeriods(c.Request.Context(), sess, path, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"path": path, "busy": periods}, nil)
}
