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

const principalColumns = `id, href, email, display_name, password_hash, admin, active, created_at, updated_at`

// PrincipalRepository persists accounts.
type PrincipalRepository struct {
	db Querier
}

// NewPrincipalRepository constructs a principal repository.
func NewPrincipalRepository(db Querier) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// GetByHref fetches a principal by its href.
func (r *PrincipalRepository) GetByHref(ctx context.Context, href string) (*models.Principal, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM principals WHERE href = ?", principalColumns))
	var p models.Principal
	if err := sqlx.GetContext(ctx, r.db, &p, query, href); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown principal")
		}
		return nil, fmt.Errorf("get principal by href: %w", err)
	}
	return &p, nil
}

// GetByEmail fetches a principal by email, case-insensitively.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM principals WHERE LOWER(email) = LOWER(?)", principalColumns))
	var p models.Principal
	if err := sqlx.GetContext(ctx, r.db, &p, query, email); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, fmt.Errorf("get principal by email: %w", err)
	}
	return &p, nil
}

// Create inserts a principal.
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	query := `INSERT INTO principals (id, href, email, display_name, password_hash, admin, active, created_at, updated_at)
VALUES (:id, :href, :email, :display_name, :password_hash, :admin, :active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, p); err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

// Update rewrites a principal.
func (r *PrincipalRepository) Update(ctx context.Context, p *models.Principal) error {
	p.UpdatedAt = time.Now().UTC()
	query := `UPDATE principals SET email = :email, display_name = :display_name, password_hash = :password_hash,
admin = :admin, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, p); err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	return nil
}
