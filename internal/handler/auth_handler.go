package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/service"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
	"github.com/noah-isme/calcore/pkg/response"
)

// AuthHandler wires HTTP endpoints to the principal service.
type AuthHandler struct {
	principals *service.PrincipalService
	validate   *validator.Validate
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(principals *service.PrincipalService, validate *validator.Validate) *AuthHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &AuthHandler{principals: principals, validate: validate}
}

// Register creates an account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}

	p, err := h.principals.Register(c.Request.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// Login authenticates by email and password and issues a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	token, p, err := h.principals.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.LoginResponse{Token: token, Principal: p}, nil)
}

// Preferences returns the caller's calendar settings.
func (h *AuthHandler) Preferences(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	pref, err := h.principals.Preferences(c.Request.Context(), claims.Href)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

// SavePreferences upserts the caller's calendar settings.
func (h *AuthHandler) SavePreferences(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preference payload"))
		return
	}

	pref := &models.Preference{
		PrincipalHref:       claims.Href,
		DefaultCalendarPath: req.DefaultCalendarPath,
		Timezone:            req.Timezone,
	}
	if err := h.principals.SavePreferences(c.Request.Context(), pref); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}
