package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/calcore/internal/models"
)

const instanceColumns = `id, master_id, recurrence_id, dtstart, dtend, override_id`

// InstanceRepository persists the sparse (master, recurrence-id) occurrence
// rows.
type InstanceRepository struct {
	db Querier
}

// NewInstanceRepository constructs an instance repository.
func NewInstanceRepository(db Querier) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// ByMaster returns a master's instances ordered by recurrence-id.
func (r *InstanceRepository) ByMaster(ctx context.Context, masterID string) ([]models.RecurrenceInstance, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM recurrence_instances WHERE master_id = ? ORDER BY recurrence_id ASC", instanceColumns))
	var instances []models.RecurrenceInstance
	if err := sqlx.SelectContext(ctx, r.db, &instances, query, masterID); err != nil {
		return nil, fmt.Errorf("instances by master: %w", err)
	}
	return instances, nil
}

// Get fetches one instance row.
func (r *InstanceRepository) Get(ctx context.Context, masterID, recurrenceID string) (*models.RecurrenceInstance, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM recurrence_instances WHERE master_id = ? AND recurrence_id = ?", instanceColumns))
	var instance models.RecurrenceInstance
	if err := sqlx.GetContext(ctx, r.db, &instance, query, masterID, recurrenceID); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &instance, nil
}

// Create inserts an instance row.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.RecurrenceInstance) error {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	query := `INSERT INTO recurrence_instances (id, master_id, recurrence_id, dtstart, dtend, override_id)
VALUES (:id, :master_id, :recurrence_id, :dtstart, :dtend, :override_id)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, instance); err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

// Update rewrites an instance's span and override pointer.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.RecurrenceInstance) error {
	query := `UPDATE recurrence_instances SET dtstart = :dtstart, dtend = :dtend, override_id = :override_id
WHERE master_id = :master_id AND recurrence_id = :recurrence_id`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, instance); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return nil
}

// Delete removes one instance row.
func (r *InstanceRepository) Delete(ctx context.Context, masterID, recurrenceID string) error {
	query := r.db.Rebind("DELETE FROM recurrence_instances WHERE master_id = ? AND recurrence_id = ?")
	if _, err := r.db.ExecContext(ctx, query, masterID, recurrenceID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

// DeleteByMaster removes every instance of a master.
func (r *InstanceRepository) DeleteByMaster(ctx context.Context, masterID string) error {
	query := r.db.Rebind("DELETE FROM recurrence_instances WHERE master_id = ?")
	if _, err := r.db.ExecContext(ctx, query, masterID); err != nil {
		return fmt.Errorf("delete instances by master: %w", err)
	}
	return nil
}

// Count returns the number of persisted instances of a master.
func (r *InstanceRepository) Count(ctx context.Context, masterID string) (int, error) {
	var n int
	query := r.db.Rebind("SELECT COUNT(*) FROM recurrence_instances WHERE master_id = ?")
	if err := sqlx.GetContext(ctx, r.db, &n, query, masterID); err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}
