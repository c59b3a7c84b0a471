package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/calcore/internal/export"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/service"
	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
	"github.com/noah-isme/calcore/pkg/response"
)

// EventHandler exposes the event lifecycle over HTTP.
type EventHandler struct {
	sessions *txn.Factory
	events   *service.EventService
	validate *validator.Validate
}

// NewEventHandler creates a new handler.
func NewEventHandler(sessions *txn.Factory, events *service.EventService, validate *validator.Validate) *EventHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &EventHandler{sessions: sessions, events: events, validate: validate}
}

func retrievalMode(c *gin.Context) models.RecurRetrievalMode {
	if c.Query("mode") == "expanded" {
		return models.RetrieveExpanded
	}
	return models.RetrieveOverridesOnly
}

// viewPayload is the wire form of a resolved event view.
type viewPayload struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	ColPath      string  `json:"col_path"`
	RecurrenceID string  `json:"recurrence_id,omitempty"`
	Start        string  `json:"start"`
	End          string  `json:"end"`
	Summary      string  `json:"summary"`
	Description  string  `json:"description,omitempty"`
	Location     *string `json:"location,omitempty"`
	IsOverride   bool    `json:"is_override"`
	Synthetic    bool    `json:"synthetic,omitempty"`
}

func viewToPayload(v models.EventView) viewPayload {
	return viewPayload{
		UID:          v.Master.UID,
		Name:         v.Master.Name,
		ColPath:      v.Master.ColPath,
		RecurrenceID: v.RecurrenceID,
		Start:        v.Start.UTC().Format(time.RFC3339),
		End:          v.End.UTC().Format(time.RFC3339),
		Summary:      v.Summary(),
		Description:  v.Description(),
		Location:     v.Location(),
		IsOverride:   v.IsOverride(),
		Synthetic:    v.Synthetic,
	}
}

func viewsToPayload(views []models.EventView) []viewPayload {
	out := make([]viewPayload, 0, len(views))
	for _, v := range views {
		out = append(out, viewToPayload(v))
	}
	return out
}

type eventResultPayload struct {
	Event     *models.MasterEvent `json:"event"`
	Overrides []viewPayload       `json:"overrides,omitempty"`
	Instances []viewPayload       `json:"instances,omitempty"`
}

func resultToPayload(r *service.EventResult) eventResultPayload {
	return eventResultPayload{
		Event:     r.Event,
		Overrides: viewsToPayload(r.OverrideViews),
		Instances: viewsToPayload(r.InstanceViews),
	}
}

// Get fetches one event by collection path and name. mode=expanded resolves
// synthetic occurrence views as well.
func (h *EventHandler) Get(c *gin.Context) {
	colPath := c.Query("col")
	name := c.Query("name")
	uid := c.Query("uid")
	if colPath == "" || (name == "" && uid == "") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "col and one of name or uid are required"))
		return
	}
	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	ctx := c.Request.Context()
	var (
		result *service.EventResult
		err    error
	)
	if name != "" {
		result, err = h.events.Get(ctx, sess, colPath, name, retrievalMode(c))
	} else {
		result, err = h.events.GetByUID(ctx, sess, colPath, uid, retrievalMode(c))
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resultToPayload(result), nil)
}

// Create adds an event, expanding recurring masters and attaching overrides.
func (h *EventHandler) Create(c *gin.Context) {
	var req models.EventWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}

	var result *models.EventChangeResult
	if mutate(c, h.sessions, func(sess *txn.Session) error {
		var err error
		result, err = h.events.Add(c.Request.Context(), sess, &req.Event, req.Overrides, req.RollbackOnError)
		return err
	}) {
		response.Created(c, result)
	}
}

// Update rewrites an event, diffing the recurrence shape against the stored
// master and applying override changes.
func (h *EventHandler) Update(c *gin.Context) {
	var req models.EventWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}

	var result *models.EventChangeResult
	if mutate(c, h.sessions, func(sess *txn.Session) error {
		var err error
		result, err = h.events.Update(c.Request.Context(), sess, &req.Event, req.Overrides, req.DeletedOverrides, req.RollbackOnError)
		return err
	}) {
		response.JSON(c, http.StatusOK, result, nil)
	}
}

// Delete removes a whole event or, with recurrence_id, one occurrence of a
// recurring series. really=true purges instead of tombstoning.
func (h *EventHandler) Delete(c *gin.Context) {
	colPath := c.Query("col")
	name := c.Query("name")
	if colPath == "" || name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "col and name are required"))
		return
	}
	recurrenceID := c.Query("recurrence_id")
	really := c.Query("really") == "true"

	var deleted bool
	if mutate(c, h.sessions, func(sess *txn.Session) error {
		var err error
		deleted, err = h.events.Delete(c.Request.Context(), sess, colPath, name, recurrenceID, really)
		return err
	}) {
		response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
	}
}

// Query filters a collection's events and returns the matching views.
func (h *EventHandler) Query(c *gin.Context) {
	var req models.EventQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query payload"))
		return
	}

	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	mode := models.RetrieveOverridesOnly
	if req.Expand {
		mode = models.RetrieveExpanded
	}
	filter := models.EventFilter{
		ColPath:  req.ColPath,
		Filter:   req.Filter.Filter(),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	views, page, err := h.events.Query(c.Request.Context(), sess, filter, mode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, viewsToPayload(views), page)
}

// Export serves one event as an iCalendar document.
func (h *EventHandler) Export(c *gin.Context) {
	colPath := c.Query("col")
	name := c.Query("name")
	if colPath == "" || name == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "col and name are required"))
		return
	}
	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	result, err := h.events.Get(c.Request.Context(), sess, colPath, name, models.RetrieveOverridesOnly)
	if err != nil {
		response.Error(c, err)
		return
	}

	out, err := export.Encode(export.Calendar(result.Event, result.OverrideViews))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Event.Name+`"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(out))
}
