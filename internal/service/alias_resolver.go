package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/access"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/repository"
	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// AliasResolver follows alias chains to their leaf collection. Cycles and
// dangling targets are not errors: they resolve to no usable target, with
// disabling the originating alias as an explicit auditable side effect.
type AliasResolver struct {
	cols   *CollectionService
	logger *zap.Logger
}

// NewAliasResolver constructs an alias resolver over the collection service.
func NewAliasResolver(cols *CollectionService, logger *zap.Logger) *AliasResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AliasResolver{cols: cols, logger: logger}
}

// Resolve returns the target collection of an alias, or nil when the alias has
// no usable target. With resolveChain the resolution recurses through alias
// targets; forFreeBusy weakens the required read privilege to free-busy-only.
// The resolved leaf carries AliasOrigin pointing back at the alias it was
// reached through.
func (r *AliasResolver) Resolve(ctx context.Context, sess *txn.Session, alias *models.Collection, resolveChain, forFreeBusy bool) (*models.Collection, error) {
	if !alias.IsAlias() {
		return alias, nil
	}
	visited := []string{alias.Path}
	return r.resolve(ctx, sess, alias, alias, visited, resolveChain, forFreeBusy)
}

func (r *AliasResolver) resolve(ctx context.Context, sess *txn.Session, origin, alias *models.Collection, visited []string, resolveChain, forFreeBusy bool) (*models.Collection, error) {
	if alias.Disabled {
		return nil, nil
	}

	target := alias.Target
	if target == nil {
		if alias.AliasTarget == nil {
			return r.disable(ctx, sess, origin, alias, "alias has no target")
		}
		targetPath := *alias.AliasTarget
		for _, seen := range visited {
			if seen == targetPath {
				r.logger.Warn("alias cycle detected",
					zap.String("alias", origin.Path), zap.String("target", targetPath))
				return r.disable(ctx, sess, origin, alias, "alias cycle")
			}
		}

		priv := access.PrivRead
		if forFreeBusy {
			priv = access.PrivReadFreeBusy
		}
		fetched, err := r.cols.GetChecked(ctx, sess, targetPath, priv, false)
		if err != nil {
			if appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) ||
				appErrors.HasCode(err, appErrors.ErrAccessDenied.Code) {
				return r.disable(ctx, sess, origin, alias, "alias target unavailable: "+targetPath)
			}
			return nil, err
		}
		alias.Target = fetched
		target = fetched
	}

	if resolveChain && target.IsAlias() {
		// The cached Target pointer bypasses the fetch above, so the cycle
		// check must run here as well or a cached loop recurses forever.
		for _, seen := range visited {
			if seen == target.Path {
				r.logger.Warn("alias cycle detected",
					zap.String("alias", origin.Path), zap.String("target", target.Path))
				return r.disable(ctx, sess, origin, alias, "alias cycle")
			}
		}
		return r.resolve(ctx, sess, origin, target, append(visited, target.Path), resolveChain, forFreeBusy)
	}
	target.AliasOrigin = origin
	return target, nil
}

// disable persists disabled=true on the originating alias and notifies, but
// only when the alias belongs to the resolving principal or was never saved.
// Other users' aliases are left alone so a transient access problem on the
// resolver's side cannot break them.
func (r *AliasResolver) disable(ctx context.Context, sess *txn.Session, origin, failed *models.Collection, reason string) (*models.Collection, error) {
	if origin.ID != "" && origin.Owner != sess.Principal {
		r.logger.Info("alias unresolvable, leaving foreign alias enabled",
			zap.String("alias", origin.Path), zap.String("reason", reason))
		return nil, nil
	}
	if failed.Path != origin.Path {
		// Only the originating alias is disabled; intermediate chain nodes
		// stay untouched.
		r.logger.Debug("alias chain broke past the origin",
			zap.String("alias", origin.Path), zap.String("broken_at", failed.Path))
	}

	origin.Disabled = true
	origin.Target = nil
	if origin.ID != "" {
		origin.AliasTarget = nil
		if err := repository.NewCollectionRepository(sess.Q()).Update(ctx, origin); err != nil {
			return nil, err
		}
		sess.Cache().Flush()
		sess.QueueNotification(models.Notification{
			Type:  models.NotifyCollectionDisabled,
			Owner: origin.Owner,
			Path:  origin.Path,
		})
	}
	r.logger.Warn("alias disabled", zap.String("alias", origin.Path), zap.String("reason", reason))
	return nil, nil
}
