package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	maxAge       = "600"
)

type policy struct {
	allowAll bool
	origins  map[string]struct{}
}

// New builds a CORS middleware over an origin allowlist. An empty list
// allows every origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	p := policy{
		allowAll: len(allowedOrigins) == 0,
		origins:  make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, origin := range allowedOrigins {
		p.origins[normalize(origin)] = struct{}{}
	}
	return p.handle
}

func (p policy) handle(c *gin.Context) {
	h := c.Writer.Header()
	if origin := c.GetHeader("Origin"); origin != "" {
		if p.allows(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
		}
	} else if p.allowAll {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Max-Age", maxAge)

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (p policy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[normalize(origin)]
	return ok
}

func normalize(origin string) string {
	return strings.TrimRight(origin, "/")
}
