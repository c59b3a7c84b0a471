package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
	"github.com/noah-isme/calcore/pkg/response"
)

// openSession builds a session acting as the authenticated principal. The
// caller owns the session and must Close it.
func openSession(c *gin.Context, sessions *txn.Factory) (*txn.Session, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	sess := sessions.Session(claims.Href)
	if claims.Admin {
		sess.Tier = "admin"
	}
	return sess, true
}

// mutate runs fn inside a transaction and reports whether it committed. On
// any failure the error response has already been written.
func mutate(c *gin.Context, sessions *txn.Factory, fn func(*txn.Session) error) bool {
	sess, ok := openSession(c, sessions)
	if !ok {
		return false
	}
	defer sess.Close()

	ctx := c.Request.Context()
	if err := sess.Begin(ctx); err != nil {
		response.Error(c, err)
		return false
	}
	if err := fn(sess); err != nil {
		_ = sess.Rollback()
		response.Error(c, err)
		return false
	}
	if err := sess.Commit(ctx); err != nil {
		response.Error(c, err)
		return false
	}
	return true
}
