package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth        *AuthHandler
	Collections *CollectionHandler
	Events      *EventHandler
	FreeBusy    *FreeBusyHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API under the configured prefix. Routes behind
// authRequired see validated JWT claims in the request context.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, authRequired gin.HandlerFunc) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)

	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)

	authed := api.Group("", authRequired)

	authed.GET("/me/preferences", h.Auth.Preferences)
	authed.PUT("/me/preferences", h.Auth.SavePreferences)

	authed.GET("/collections", h.Collections.Get)
	authed.GET("/collections/children", h.Collections.Children)
	authed.POST("/collections", h.Collections.Create)
	authed.POST("/collections/rename", h.Collections.Rename)
	authed.POST("/collections/move", h.Collections.Move)
	authed.DELETE("/collections", h.Collections.Delete)

	authed.GET("/events", h.Events.Get)
	authed.POST("/events", h.Events.Create)
	authed.PUT("/events", h.Events.Update)
	authed.DELETE("/events", h.Events.Delete)
	authed.POST("/events/query", h.Events.Query)
	authed.GET("/events/export", h.Events.Export)

	authed.GET("/freebusy", h.FreeBusy.Report)
}
