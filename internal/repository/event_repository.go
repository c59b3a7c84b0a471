package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

const eventColumns = `id, col_path, uid, name, summary, description, location, dtstart, dtend,
floating, date_only, recurring, rrules, exrules, rdates, exdates, attendees, owner, tombstoned, sequence, lastmod`

// EventRepository persists master events, their overrides and tombstones.
type EventRepository struct {
	db Querier
}

// NewEventRepository constructs an event repository bound to a DB handle or an
// open transaction.
func NewEventRepository(db Querier) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID fetches any event row, tombstoned or not.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.MasterEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM calendar_events WHERE id = $1", eventColumns)
	var event models.MasterEvent
	if err := sqlx.GetContext(ctx, r.db, &event, query, id); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrEventNotFound, "")
		}
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return &event, nil
}

// GetByName fetches the live event with the given name in a collection.
func (r *EventRepository) GetByName(ctx context.Context, colPath, name string) (*models.MasterEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM calendar_events WHERE col_path = $1 AND name = $2 AND NOT tombstoned", eventColumns)
	var event models.MasterEvent
	if err := sqlx.GetContext(ctx, r.db, &event, query, colPath, name); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrEventNotFound, "")
		}
		return nil, fmt.Errorf("get event by name: %w", err)
	}
	return &event, nil
}

// GetByUID fetches the live event with the given uid in a collection.
func (r *EventRepository) GetByUID(ctx context.Context, colPath, uid string) (*models.MasterEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM calendar_events WHERE col_path = $1 AND uid = $2 AND NOT tombstoned", eventColumns)
	var event models.MasterEvent
	if err := sqlx.GetContext(ctx, r.db, &event, query, colPath, uid); err != nil {
		if noRows(err) {
			return nil, appErrors.Clone(appErrors.ErrEventNotFound, "")
		}
		return nil, fmt.Errorf("get event by uid: %w", err)
	}
	return &event, nil
}

// GetTombstonedByName fetches a tombstone occupying a (collection, name)
// slot, nil when there is none.
func (r *EventRepository) GetTombstonedByName(ctx context.Context, colPath, name string) (*models.MasterEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM calendar_events WHERE col_path = $1 AND name = $2 AND tombstoned", eventColumns)
	var event models.MasterEvent
	if err := sqlx.GetContext(ctx, r.db, &event, query, colPath, name); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tombstoned event: %w", err)
	}
	return &event, nil
}

// List returns live events in a collection matching the extra predicate
// fragments produced by the filter translator. Fragments use ? placeholders
// and are rebound for the driver.
func (r *EventRepository) List(ctx context.Context, colPath string, where []string, args []interface{}, page, size int) ([]models.MasterEvent, int, error) {
	clauses := append([]string{"col_path = ?", "NOT tombstoned"}, where...)
	allArgs := append([]interface{}{colPath}, args...)
	whereClause := strings.Join(clauses, " AND ")

	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 500 {
		size = 100
	}
	offset := (page - 1) * size

	query := r.db.Rebind(fmt.Sprintf(
		"SELECT %s FROM calendar_events WHERE %s ORDER BY dtstart ASC, name ASC LIMIT %d OFFSET %d",
		eventColumns, whereClause, size, offset))
	var events []models.MasterEvent
	if err := sqlx.SelectContext(ctx, r.db, &events, query, allArgs...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery := r.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM calendar_events WHERE %s", whereClause))
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, allArgs...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return events, total, nil
}

// Create inserts a master event.
func (r *EventRepository) Create(ctx context.Context, event *models.MasterEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Sequence = 0
	event.LastMod = time.Now().UTC()
	query := `INSERT INTO calendar_events (id, col_path, uid, name, summary, description, location, dtstart, dtend,
floating, date_only, recurring, rrules, exrules, rdates, exdates, attendees, owner, tombstoned, sequence, lastmod)
VALUES (:id, :col_path, :uid, :name, :summary, :description, :location, :dtstart, :dtend,
:floating, :date_only, :recurring, :rrules, :exrules, :rdates, :exdates, :attendees, :owner, :tombstoned, :sequence, :lastmod)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, event); err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// Update rewrites a master event, bumping sequence and lastmod. The sequence
// guard surfaces a concurrent update as the retryable stale-state condition.
func (r *EventRepository) Update(ctx context.Context, event *models.MasterEvent) error {
	prevSeq := event.Sequence
	event.Sequence++
	event.LastMod = time.Now().UTC()
	query := r.db.Rebind(`UPDATE calendar_events SET col_path = ?, summary = ?, description = ?, location = ?,
dtstart = ?, dtend = ?, floating = ?, date_only = ?, recurring = ?, rrules = ?, exrules = ?, rdates = ?, exdates = ?,
attendees = ?, tombstoned = ?, sequence = ?, lastmod = ? WHERE id = ? AND sequence = ?`)
	res, err := r.db.ExecContext(ctx, query,
		event.ColPath, event.Summary, event.Description, event.Location,
		event.Start, event.End, event.Floating, event.DateOnly, event.Recurring,
		event.RRules, event.ExRules, event.RDates, event.ExDates,
		event.Attendees, event.Tombstoned, event.Sequence, event.LastMod,
		event.ID, prevSeq)
	if err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrStaleState, "event was modified concurrently")
	}
	return nil
}

// Delete hard-deletes an event row.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM calendar_events WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// Tombstone scrubs the event's content and marks it deleted while keeping
// identity, path and a current lastmod for sync propagation.
func (r *EventRepository) Tombstone(ctx context.Context, event *models.MasterEvent) error {
	event.Summary = ""
	event.Description = ""
	event.Location = nil
	event.RRules = nil
	event.ExRules = nil
	event.RDates = nil
	event.ExDates = nil
	event.Attendees = nil
	event.Recurring = false
	event.Tombstoned = true
	return r.Update(ctx, event)
}

// PurgeTombstoned removes a tombstone occupying a (collection, uid) slot so a
// re-created event can claim it.
func (r *EventRepository) PurgeTombstoned(ctx context.Context, colPath, uid string) error {
	query := r.db.Rebind("DELETE FROM calendar_events WHERE col_path = ? AND uid = ? AND tombstoned")
	if _, err := r.db.ExecContext(ctx, query, colPath, uid); err != nil {
		return fmt.Errorf("purge tombstoned event: %w", err)
	}
	return nil
}

// ClearAttendees empties the attendee list ahead of a hard delete.
func (r *EventRepository) ClearAttendees(ctx context.Context, id string) error {
	query := r.db.Rebind("UPDATE calendar_events SET attendees = '{}' WHERE id = ?")
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear attendees: %w", err)
	}
	return nil
}

// CountLive returns the number of non-tombstoned events in a collection.
func (r *EventRepository) CountLive(ctx context.Context, colPath string) (int, error) {
	var n int
	query := r.db.Rebind("SELECT COUNT(*) FROM calendar_events WHERE col_path = ? AND NOT tombstoned")
	if err := sqlx.GetContext(ctx, r.db, &n, query, colPath); err != nil {
		return 0, fmt.Errorf("count live events: %w", err)
	}
	return n, nil
}

// RewriteColPath repoints every event under oldPath at newPath during a
// collection rename or move.
func (r *EventRepository) RewriteColPath(ctx context.Context, oldPath, newPath string) error {
	query := r.db.Rebind("UPDATE calendar_events SET col_path = ?, lastmod = ? WHERE col_path = ?")
	if _, err := r.db.ExecContext(ctx, query, newPath, time.Now().UTC(), oldPath); err != nil {
		return fmt.Errorf("rewrite event col_path: %w", err)
	}
	return nil
}

const overrideColumns = `id, master_id, uid, name, recurrence_id, is_override, summary, description, location, dtstart, dtend, lastmod`

// OverridesByMaster returns all overrides of a master, ordered by
// recurrence-id.
func (r *EventRepository) OverridesByMaster(ctx context.Context, masterID string) ([]models.Override, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM event_overrides WHERE master_id = ? ORDER BY recurrence_id ASC", overrideColumns))
	var overrides []models.Override
	if err := sqlx.SelectContext(ctx, r.db, &overrides, query, masterID); err != nil {
		return nil, fmt.Errorf("overrides by master: %w", err)
	}
	return overrides, nil
}

// UpsertOverride writes an override; the (master, recurrence-id) uniqueness of
// instance overrides makes last-write-wins explicit. On conflict the existing
// row keeps its id, so the surviving id is scanned back into o.ID for callers
// that go on to reference the override from an instance.
func (r *EventRepository) UpsertOverride(ctx context.Context, o *models.Override) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.LastMod = time.Now().UTC()
	query := `INSERT INTO event_overrides (id, master_id, uid, name, recurrence_id, is_override, summary, description, location, dtstart, dtend, lastmod)
VALUES (:id, :master_id, :uid, :name, :recurrence_id, :is_override, :summary, :description, :location, :dtstart, :dtend, :lastmod)
ON CONFLICT (master_id, recurrence_id) DO UPDATE SET
summary = EXCLUDED.summary, description = EXCLUDED.description, location = EXCLUDED.location,
dtstart = EXCLUDED.dtstart, dtend = EXCLUDED.dtend, is_override = EXCLUDED.is_override, lastmod = EXCLUDED.lastmod
RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, o)
	if err != nil {
		if mapped := mapStoreError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("upsert override: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&o.ID); err != nil {
			return fmt.Errorf("upsert override: %w", err)
		}
	}
	return rows.Err()
}

// DeleteOverride removes one override row.
func (r *EventRepository) DeleteOverride(ctx context.Context, masterID, recurrenceID string) error {
	query := r.db.Rebind("DELETE FROM event_overrides WHERE master_id = ? AND recurrence_id = ?")
	if _, err := r.db.ExecContext(ctx, query, masterID, recurrenceID); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

// DeleteOverridesByMaster removes every override of a master.
func (r *EventRepository) DeleteOverridesByMaster(ctx context.Context, masterID string) error {
	query := r.db.Rebind("DELETE FROM event_overrides WHERE master_id = ?")
	if _, err := r.db.ExecContext(ctx, query, masterID); err != nil {
		return fmt.Errorf("delete overrides by master: %w", err)
	}
	return nil
}
