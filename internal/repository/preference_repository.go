package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/calcore/internal/models"
)

// PreferenceRepository persists per-principal calendar preferences.
type PreferenceRepository struct {
	db Querier
}

// NewPreferenceRepository constructs a preference repository.
func NewPreferenceRepository(db Querier) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get fetches a principal's preferences; a missing row yields defaults.
func (r *PreferenceRepository) Get(ctx context.Context, principalHref string) (*models.Preference, error) {
	query := r.db.Rebind("SELECT principal_href, default_calendar_path, timezone, updated_at FROM principal_preferences WHERE principal_href = ?")
	var pref models.Preference
	if err := sqlx.GetContext(ctx, r.db, &pref, query, principalHref); err != nil {
		if noRows(err) {
			return &models.Preference{PrincipalHref: principalHref, Timezone: "UTC"}, nil
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &pref, nil
}

// Upsert writes a principal's preferences.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.Preference) error {
	pref.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO principal_preferences (principal_href, default_calendar_path, timezone, updated_at)
VALUES (:principal_href, :default_calendar_path, :timezone, :updated_at)
ON CONFLICT (principal_href) DO UPDATE SET
default_calendar_path = EXCLUDED.default_calendar_path, timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, pref); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// ClearCollectionRefs removes references to a deleted collection (and its
// subtree) from every principal's preferences, so no dangling paths survive
// the delete.
func (r *PreferenceRepository) ClearCollectionRefs(ctx context.Context, path string) error {
	query := r.db.Rebind(`UPDATE principal_preferences SET default_calendar_path = NULL, updated_at = ?
WHERE default_calendar_path = ? OR default_calendar_path LIKE ?`)
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), path, path+"/%"); err != nil {
		return fmt.Errorf("clear preference refs: %w", err)
	}
	return nil
}
