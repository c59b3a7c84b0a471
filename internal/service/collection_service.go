package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/access"
	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/repository"
	"github.com/noah-isme/calcore/internal/txn"
	"github.com/noah-isme/calcore/pkg/config"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// CollectionService owns the collection hierarchy: create, rename, move,
// delete and the path-rewrite cascade those trigger. All reads go through the
// session's collection cache.
type CollectionService struct {
	checker access.Checker
	paths   config.PathsConfig
	logger  *zap.Logger
}

// NewCollectionService constructs the collection service.
func NewCollectionService(checker access.Checker, paths config.PathsConfig, logger *zap.Logger) *CollectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionService{checker: checker, paths: paths, logger: logger}
}

// Get fetches the live collection at path under read access, serving from the
// session cache when possible. Denied access maps onto not-found so an
// unprivileged caller cannot probe for existence.
func (s *CollectionService) Get(ctx context.Context, sess *txn.Session, path string) (*models.Collection, error) {
	return s.GetChecked(ctx, sess, path, access.PrivRead, false)
}

// GetChecked fetches a collection under an explicit privilege. With
// alwaysReturnResult the caller receives ACCESS_DENIED instead of the
// not-found disguise.
func (s *CollectionService) GetChecked(ctx context.Context, sess *txn.Session, path string, priv access.Privilege, alwaysReturnResult bool) (*models.Collection, error) {
	if !models.ValidPath(path) {
		return nil, appErrors.Clone(appErrors.ErrMalformedPath, "malformed path: "+path)
	}
	cached, err := sess.Cache().Get(ctx, path)
	if err != nil {
		return nil, err
	}
	col := cached
	if col == nil {
		col, err = repository.NewCollectionRepository(sess.Q()).GetByPath(ctx, path)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.checker.CheckAccess(ctx, sess.Principal, col, priv, alwaysReturnResult)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		if alwaysReturnResult {
			return nil, appErrors.Clone(appErrors.ErrAccessDenied, res.Reason)
		}
		return nil, appErrors.Clone(appErrors.ErrCollectionNotFound, "")
	}
	if cached == nil {
		sess.Cache().Put(col)
	}
	return col, nil
}

// Add creates a collection under its parent path. Reserved names are
// rejected; a tombstone occupying the path is purged to make room.
func (s *CollectionService) Add(ctx context.Context, sess *txn.Session, col *models.Collection) error {
	if col.Name == "" || strings.ContainsRune(col.Name, '/') {
		return appErrors.Clone(appErrors.ErrValidation, "collection name is required and may not contain slashes")
	}
	if s.paths.Reserved(col.Name) {
		return appErrors.Clone(appErrors.ErrReservedName, "collection name is reserved: "+col.Name)
	}
	parent, err := s.GetChecked(ctx, sess, col.ParentPath, access.PrivBind, false)
	if err != nil {
		return err
	}
	if parent.Type != models.ColFolder {
		return appErrors.Clone(appErrors.ErrIllegalCalendar,
			"collections may only be created under a folder, not "+string(parent.Type))
	}
	if col.IsAlias() && col.AliasTarget == nil {
		return appErrors.Clone(appErrors.ErrValidation, "alias collection requires a target path")
	}

	col.Path = parent.ChildPath(col.Name)
	if col.Owner == "" {
		col.Owner = sess.Principal
	}
	col.Creator = sess.Principal

	repo := repository.NewCollectionRepository(sess.Q())
	if _, err := repo.GetByPath(ctx, col.Path); err == nil {
		return appErrors.Clone(appErrors.ErrDuplicateName, "collection already exists: "+col.Path)
	} else if !appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) {
		return err
	}
	tomb, err := repo.GetTombstoned(ctx, col.Path)
	if err != nil {
		return err
	}
	if tomb != nil {
		if err := repo.PurgeTombstoned(ctx, col.Path); err != nil {
			return err
		}
	}

	if err := repo.Create(ctx, col); err != nil {
		return err
	}
	if err := repo.Touch(ctx, parent.Path); err != nil {
		return err
	}
	sess.Cache().Remove(parent.Path)
	sess.Cache().Put(col)
	sess.QueueIndex(index.CollectionEntry(col))
	sess.QueueNotification(models.Notification{
		Type:   models.NotifyCollectionAdded,
		Owner:  col.Owner,
		Path:   col.Path,
		Shared: col.Shared,
		Public: col.Public,
	})
	return nil
}

// Rename changes a collection's name in place and cascades the path rewrite
// to every descendant. A tombstoned sibling colliding with the new name is
// purged to make room.
func (s *CollectionService) Rename(ctx context.Context, sess *txn.Session, path, newName string) error {
	sess.Cache().Flush()
	col, err := s.GetChecked(ctx, sess, path, access.PrivWriteProperties, false)
	if err != nil {
		return err
	}
	if newName == "" || strings.ContainsRune(newName, '/') {
		return appErrors.Clone(appErrors.ErrValidation, "invalid collection name")
	}
	if s.paths.Reserved(newName) {
		return appErrors.Clone(appErrors.ErrReservedName, "collection name is reserved: "+newName)
	}
	if newName == col.Name {
		return nil
	}

	repo := repository.NewCollectionRepository(sess.Q())
	newPath := models.JoinPath(col.ParentPath, newName)
	if _, err := repo.GetByPath(ctx, newPath); err == nil {
		return appErrors.Clone(appErrors.ErrDuplicateName, "collection already exists: "+newPath)
	} else if !appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) {
		return err
	}
	tomb, err := repo.GetTombstoned(ctx, newPath)
	if err != nil {
		return err
	}
	if tomb != nil {
		if err := repo.PurgeTombstoned(ctx, newPath); err != nil {
			return err
		}
	}

	return s.rewriteSubtree(ctx, sess, col, col.ParentPath, newName)
}

// Move re-parents a collection under a folder-type destination, leaving a
// tombstone copy at the old path so sync clients observe the move as
// delete-plus-create.
func (s *CollectionService) Move(ctx context.Context, sess *txn.Session, path, newParentPath string) error {
	sess.Cache().Flush()
	col, err := s.GetChecked(ctx, sess, path, access.PrivUnbind, false)
	if err != nil {
		return err
	}
	dest, err := s.GetChecked(ctx, sess, newParentPath, access.PrivBind, false)
	if err != nil {
		return err
	}
	if dest.Type != models.ColFolder {
		return appErrors.Clone(appErrors.ErrIllegalCalendar, "move destination must be a folder")
	}
	if dest.Path == col.Path || strings.HasPrefix(dest.Path, col.Path+"/") {
		return appErrors.Clone(appErrors.ErrValidation, "cannot move a collection into itself")
	}

	repo := repository.NewCollectionRepository(sess.Q())
	newPath := dest.ChildPath(col.Name)
	if _, err := repo.GetByPath(ctx, newPath); err == nil {
		return appErrors.Clone(appErrors.ErrDuplicateName, "collection already exists: "+newPath)
	} else if !appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) {
		return err
	}

	oldPath := col.Path
	oldParent := col.ParentPath
	if err := s.rewriteSubtree(ctx, sess, col, dest.Path, col.Name); err != nil {
		return err
	}

	tombstone := &models.Collection{
		Path:       oldPath,
		ParentPath: oldParent,
		Name:       col.Name,
		Type:       col.Type,
		Owner:      col.Owner,
		Creator:    col.Creator,
		Tombstoned: true,
	}
	if err := repo.Create(ctx, tombstone); err != nil {
		return err
	}
	return repo.Touch(ctx, dest.Path)
}

// rewriteSubtree is the path-rewrite cascade: descendants are fetched before
// any rewrite begins, every node's path and contained events are repointed,
// indexes rewritten and a moved notification emitted per node. The old cache
// entries are evicted and nothing is repopulated until the cascade completes.
func (s *CollectionService) rewriteSubtree(ctx context.Context, sess *txn.Session, col *models.Collection, newParentPath, newName string) error {
	repo := repository.NewCollectionRepository(sess.Q())
	eventRepo := repository.NewEventRepository(sess.Q())

	oldPath := col.Path
	descendants, err := repo.DescendantsByPrefix(ctx, oldPath)
	if err != nil {
		return err
	}

	newPath := models.JoinPath(newParentPath, newName)
	sess.QueueUnindex(oldPath)
	sess.QueueUnindexContained(oldPath)
	sess.Cache().Remove(oldPath)
	sess.Cache().Remove(col.ParentPath)
	sess.Cache().Remove(newParentPath)

	col.Path = newPath
	col.ParentPath = newParentPath
	col.Name = newName
	if err := repo.Update(ctx, col); err != nil {
		return err
	}
	if err := eventRepo.RewriteColPath(ctx, oldPath, newPath); err != nil {
		return err
	}
	sess.QueueIndex(index.CollectionEntry(col))
	sess.QueueNotification(models.Notification{
		Type:    models.NotifyCollectionMoved,
		Owner:   col.Owner,
		Path:    newPath,
		OldHref: oldPath,
		NewHref: newPath,
		Shared:  col.Shared,
		Public:  col.Public,
	})

	// Paths come back sorted, so parents are rewritten before their children.
	for i := range descendants {
		d := descendants[i]
		oldDescPath := d.Path
		d.Path = newPath + strings.TrimPrefix(d.Path, oldPath)
		d.ParentPath = newPath + strings.TrimPrefix(d.ParentPath, oldPath)
		sess.Cache().Remove(oldDescPath)
		if err := repo.Update(ctx, &d); err != nil {
			return err
		}
		if err := eventRepo.RewriteColPath(ctx, oldDescPath, d.Path); err != nil {
			return err
		}
		sess.QueueIndex(index.CollectionEntry(&d))
		sess.QueueNotification(models.Notification{
			Type:    models.NotifyCollectionMoved,
			Owner:   d.Owner,
			Path:    d.Path,
			OldHref: oldDescPath,
			NewHref: d.Path,
			Shared:  d.Shared,
			Public:  d.Public,
		})
	}
	return nil
}

// Delete removes an empty collection, tombstoning by default or purging when
// reallyDelete is set. Preference references to the path are cleared first so
// no dangling foreign references survive.
func (s *CollectionService) Delete(ctx context.Context, sess *txn.Session, path string, reallyDelete bool) error {
	col, err := s.GetChecked(ctx, sess, path, access.PrivUnbind, false)
	if err != nil {
		return err
	}
	parent, err := s.GetChecked(ctx, sess, col.ParentPath, access.PrivWriteContent, false)
	if err != nil {
		return err
	}

	repo := repository.NewCollectionRepository(sess.Q())
	eventRepo := repository.NewEventRepository(sess.Q())

	liveEvents, err := eventRepo.CountLive(ctx, path)
	if err != nil {
		return err
	}
	liveChildren, err := repo.CountLiveChildren(ctx, path)
	if err != nil {
		return err
	}
	if liveEvents > 0 || liveChildren > 0 {
		return appErrors.Clone(appErrors.ErrCollectionNotEmpty, "collection is not empty: "+path)
	}

	if err := repository.NewPreferenceRepository(sess.Q()).ClearCollectionRefs(ctx, path); err != nil {
		return err
	}

	if reallyDelete {
		if err := repo.Delete(ctx, col.ID); err != nil {
			return err
		}
	} else {
		if err := repo.Tombstone(ctx, col); err != nil {
			return err
		}
	}
	if err := repo.Touch(ctx, parent.Path); err != nil {
		return err
	}

	sess.Cache().Remove(path)
	sess.Cache().Remove(parent.Path)
	sess.QueueUnindex(path)
	sess.QueueNotification(models.Notification{
		Type:   models.NotifyCollectionDeleted,
		Owner:  col.Owner,
		Path:   path,
		Shared: col.Shared,
		Public: col.Public,
	})
	return nil
}

// Children lists a collection's live children, reading through the indexer
// when one is configured and falling back to the store. Cached children with
// matching tokens skip the access round trip.
func (s *CollectionService) Children(ctx context.Context, sess *txn.Session, path string) ([]models.Collection, error) {
	parent, err := s.Get(ctx, sess, path)
	if err != nil {
		return nil, err
	}

	if _, noop := sess.Indexer().(index.Noop); !noop {
		entries, err := sess.Indexer().FetchChildren(ctx, path)
		if err == nil && entries != nil {
			return s.childrenFromIndex(ctx, sess, entries)
		}
		if err != nil {
			s.logger.Warn("indexer child listing failed, falling back to store",
				zap.String("path", path), zap.Error(err))
		}
	}

	rows, err := repository.NewCollectionRepository(sess.Q()).Children(ctx, parent.Path)
	if err != nil {
		return nil, err
	}
	return s.visibleChildren(ctx, sess, rows)
}

func (s *CollectionService) childrenFromIndex(ctx context.Context, sess *txn.Session, entries []index.Entry) ([]models.Collection, error) {
	children := make([]models.Collection, 0, len(entries))
	for _, e := range entries {
		if e.Kind != "collection" {
			continue
		}
		if cached := sess.Cache().GetToken(e.Href, e.Token); cached != nil {
			children = append(children, *cached)
			continue
		}
		col, err := s.Get(ctx, sess, e.Href)
		if err != nil {
			if appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) {
				continue
			}
			return nil, err
		}
		children = append(children, *col)
	}
	return children, nil
}

func (s *CollectionService) visibleChildren(ctx context.Context, sess *txn.Session, rows []models.Collection) ([]models.Collection, error) {
	children := make([]models.Collection, 0, len(rows))
	for i := range rows {
		col := rows[i]
		res, err := s.checker.CheckAccess(ctx, sess.Principal, &col, access.PrivRead, false)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			continue
		}
		sess.Cache().Put(&col)
		children = append(children, col)
	}
	return children, nil
}
