package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/service"
	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
	"github.com/noah-isme/calcore/pkg/response"
)

// CollectionHandler exposes the collection hierarchy over HTTP. Collections
// are addressed by a `path` query parameter since paths contain slashes.
type CollectionHandler struct {
	sessions    *txn.Factory
	collections *service.CollectionService
	aliases     *service.AliasResolver
	validate    *validator.Validate
}

// NewCollectionHandler creates a new handler.
func NewCollectionHandler(sessions *txn.Factory, collections *service.CollectionService, aliases *service.AliasResolver, validate *validator.Validate) *CollectionHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &CollectionHandler{sessions: sessions, collections: collections, aliases: aliases, validate: validate}
}

func pathParam(c *gin.Context) (string, error) {
	path := c.Query("path")
	if path == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "path query parameter is required")
	}
	return path, nil
}

// Get returns one collection, following alias chains when resolve=true.
func (h *CollectionHandler) Get(c *gin.Context) {
	path, err := pathParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	ctx := c.Request.Context()
	col, err := h.collections.Get(ctx, sess, path)
	if err != nil {
		response.Error(c, err)
		return
	}

	if col.IsAlias() && c.Query("resolve") == "true" {
		target, err := h.aliases.Resolve(ctx, sess, col, true, false)
		if err != nil {
			response.Error(c, err)
			return
		}
		if target == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrCollectionNotFound, "alias has no usable target"))
			return
		}
		col = target
	}
	response.JSON(c, http.StatusOK, col, nil)
}

// Children lists the direct children the caller may see.
func (h *CollectionHandler) Children(c *gin.Context) {
	path, err := pathParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sess, ok := openSession(c, h.sessions)
	if !ok {
		return
	}
	defer sess.Close()

	children, err := h.collections.Children(c.Request.Context(), sess, path)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, children, nil)
}

// Create adds a collection under an existing folder.
func (h *CollectionHandler) Create(c *gin.Context) {
	var req models.CollectionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid collection payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid collection payload"))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	col := req.Collection(claims.Href)

	if mutate(c, h.sessions, func(sess *txn.Session) error {
		return h.collections.Add(c.Request.Context(), sess, col)
	}) {
		response.Created(c, col)
	}
}

// Rename changes a collection's name, cascading into its subtree.
func (h *CollectionHandler) Rename(c *gin.Context) {
	var req models.CollectionRenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rename payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rename payload"))
		return
	}

	if mutate(c, h.sessions, func(sess *txn.Session) error {
		return h.collections.Rename(c.Request.Context(), sess, req.Path, req.NewName)
	}) {
		response.NoContent(c)
	}
}

// Move reparents a collection subtree under another folder.
func (h *CollectionHandler) Move(c *gin.Context) {
	var req models.CollectionMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid move payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid move payload"))
		return
	}

	if mutate(c, h.sessions, func(sess *txn.Session) error {
		return h.collections.Move(c.Request.Context(), sess, req.Path, req.NewParentPath)
	}) {
		response.NoContent(c)
	}
}

// Delete removes an empty collection. really=true purges instead of
// tombstoning.
func (h *CollectionHandler) Delete(c *gin.Context) {
	path, err := pathParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	really := c.Query("really") == "true"

	if mutate(c, h.sessions, func(sess *txn.Session) error {
		return h.collections.Delete(c.Request.Context(), sess, path, really)
	}) {
		response.NoContent(c)
	}
}
