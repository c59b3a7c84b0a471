package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

const collectionColumns = `id, path, parent_path, name, col_type, owner, creator, alias_target,
unique_uid, disabled, tombstoned, shared, public, sequence, lastmod`

// CollectionRepository persists the collection hierarchy rows.
type CollectionRepository struct {
	db Querier
}

// NewCollectionRepository constructs a collection repository.
func NewCollectionRepository(db Querier) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// GetByPath fetches the live collection at a path.
func (r *CollectionRepository) GetByPath(ctx context.Context, path string) (*models.Collection, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM calendar_collections WHERE path = ? AND NOT tombstoned", collectionColumns))
	var col models.Collection
	if err := sqlx.GetContext(ctx, r.db, &col, query, path); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrCollectionNotFound, "")
		}
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &col, nil
}

// GetTombstoned fetches a tombstone occupying a path, if any.
func (r *CollectionRepository) GetTombstoned(ctx context.Context, path string) (*models.Collection, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM calendar_collections WHERE path = ? AND tombstoned", collectionColumns))
	var col models.Collection
	if err := sqlx.GetContext(ctx, r.db, &col, query, path); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tombstoned collection: %w", err)
	}
	return &col, nil
}

// Children returns the live children of a collection ordered by name.
func (r *CollectionRepository) Children(ctx context.Context, parentPath string) ([]models.Collection, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM calendar_collections WHERE parent_path = ? AND NOT tombstoned ORDER BY name ASC", collectionColumns))
	var cols []models.Collection
	if err := sqlx.SelectContext(ctx, r.db, &cols, query, parentPath); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return cols, nil
}

// DescendantsByPrefix returns every live collection under a path, deepest
// last. The rename/move cascade fetches this before rewriting anything so it
// never iterates a mutating result set.
func (r *CollectionRepository) DescendantsByPrefix(ctx context.Context, pathPrefix string) ([]models.Collection, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM calendar_collections WHERE path LIKE ? AND NOT tombstoned ORDER BY path ASC", collectionColumns))
	var cols []models.Collection
	if err := sqlx.SelectContext(ctx, r.db, &cols, query, pathPrefix+"/%"); err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return cols, nil
}

// CurrentToken returns the live collection's sync token. A vanished
// collection reports COLLECTION_NOT_FOUND so cache validation treats it as a
// miss.
func (r *CollectionRepository) CurrentToken(ctx context.Context, path string) (string, error) {
	query := r.db.Rebind("SELECT lastmod, sequence FROM calendar_collections WHERE path = ? AND NOT tombstoned")
	var row struct {
		LastMod  time.Time `db:"lastmod"`
		Sequence int       `db:"sequence"`
	}
	if err := sqlx.GetContext(ctx, r.db, &row, query, path); err != nil {
		if noRows(err) {
			return "", appErrors.Clone(appErrors.ErrCollectionNotFound, "")
		}
		return "", fmt.Errorf("current token: %w", err)
	}
	return models.FormatSyncToken(row.LastMod, row.Sequence), nil
}

// Create inserts a collection.
func (r *CollectionRepository) Create(ctx context.Context, col *models.Collection) error {
	if col.ID == "" {
		col.ID = uuid.NewString()
	}
	col.Sequence = 0
	col.LastMod = time.Now().UTC()
	query := `INSERT INTO calendar_collections (id, path, parent_path, name, col_type, owner, creator, alias_target,
unique_uid, disabled, tombstoned, shared, public, sequence, lastmod)
VALUES (:id, :path, :parent_path, :name, :col_type, :owner, :creator, :alias_target,
:unique_uid, :disabled, :tombstoned, :shared, :public, :sequence, :lastmod)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, col); err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Update rewrites a collection row, bumping sequence and lastmod. Concurrent
// modification surfaces as the retryable stale-state condition.
func (r *CollectionRepository) Update(ctx context.Context, col *models.Collection) error {
	prevSeq := col.Sequence
	col.Sequence++
	col.LastMod = time.Now().UTC()
	query := r.db.Rebind(`UPDATE calendar_collections SET path = ?, parent_path = ?, name = ?, col_type = ?,
alias_target = ?, unique_uid = ?, disabled = ?, tombstoned = ?, shared = ?, public = ?, sequence = ?, lastmod = ?
WHERE id = ? AND sequence = ?`)
	res, err := r.db.ExecContext(ctx, query,
		col.Path, col.ParentPath, col.Name, col.Type,
		col.AliasTarget, col.UniqueUID, col.Disabled, col.Tombstoned, col.Shared, col.Public,
		col.Sequence, col.LastMod, col.ID, prevSeq)
	if err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("update collection: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrStaleState, "collection was modified concurrently")
	}
	return nil
}

// Touch bumps a collection's lastmod and sequence, refreshing its sync token.
func (r *CollectionRepository) Touch(ctx context.Context, path string) error {
	query := r.db.Rebind("UPDATE calendar_collections SET lastmod = ?, sequence = sequence + 1 WHERE path = ? AND NOT tombstoned")
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), path); err != nil {
		return fmt.Errorf("touch collection: %w", err)
	}
	return nil
}

// Delete hard-deletes a collection row.
func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM calendar_collections WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Tombstone marks a collection deleted while keeping its path for sync
// propagation.
func (r *CollectionRepository) Tombstone(ctx context.Context, col *models.Collection) error {
	col.Tombstoned = true
	col.AliasTarget = nil
	return r.Update(ctx, col)
}

// PurgeTombstoned removes a tombstone occupying a path.
func (r *CollectionRepository) PurgeTombstoned(ctx context.Context, path string) error {
	query := r.db.Rebind("DELETE FROM calendar_collections WHERE path = ? AND tombstoned")
	if _, err := r.db.ExecContext(ctx, query, path); err != nil {
		return fmt.Errorf("purge tombstoned collection: %w", err)
	}
	return nil
}

// CountLiveChildren returns the number of live children under a path.
func (r *CollectionRepository) CountLiveChildren(ctx context.Context, path string) (int, error) {
	var n int
	query := r.db.Rebind("SELECT COUNT(*) FROM calendar_collections WHERE parent_path = ? AND NOT tombstoned")
	if err := sqlx.GetContext(ctx, r.db, &n, query, path); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}
