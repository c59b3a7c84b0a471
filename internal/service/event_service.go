package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/access"
	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/query"
	"github.com/noah-isme/calcore/internal/recurrence"
	"github.com/noah-isme/calcore/internal/repository"
	"github.com/noah-isme/calcore/internal/txn"
	"github.com/noah-isme/calcore/pkg/config"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// EventService drives the master-event lifecycle: uniqueness-checked add,
// recurrence-diffed update and instance-aware delete, with the expansion and
// override resolution engines behind it.
type EventService struct {
	cols       *CollectionService
	expander   *recurrence.Expander
	resolver   *recurrence.Resolver
	translator query.Translator
	rec        config.RecurrenceConfig
	logger     *zap.Logger
}

// NewEventService constructs the event service.
func NewEventService(cols *CollectionService, rec config.RecurrenceConfig, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	expander := recurrence.NewExpander()
	return &EventService{
		cols:     cols,
		expander: expander,
		resolver: recurrence.NewResolver(expander),
		rec:      rec,
		logger:   logger,
	}
}

func (s *EventService) bounds(sess *txn.Session) (int, int) {
	return s.rec.MaxYears, s.rec.InstancesForTier(sess.Tier)
}

// EventResult is one resolved read: the master plus its override views and,
// in expanded mode, the synthetic per-occurrence views.
type EventResult struct {
	Event         *models.MasterEvent `json:"event"`
	OverrideViews []models.EventView  `json:"override_views,omitempty"`
	InstanceViews []models.EventView  `json:"instance_views,omitempty"`
}

// Get fetches one event by collection path and name, resolving overrides per
// the retrieval mode.
func (s *EventService) Get(ctx context.Context, sess *txn.Session, colPath, name string, mode models.RecurRetrievalMode) (*EventResult, error) {
	if _, err := s.cols.Get(ctx, sess, colPath); err != nil {
		return nil, err
	}
	repo := repository.NewEventRepository(sess.Q())
	event, err := repo.GetByName(ctx, colPath, name)
	if err != nil {
		return nil, err
	}
	return s.resolveViews(ctx, sess, event, mode)
}

// GetByUID fetches one event by collection path and uid.
func (s *EventService) GetByUID(ctx context.Context, sess *txn.Session, colPath, uid string, mode models.RecurRetrievalMode) (*EventResult, error) {
	if _, err := s.cols.Get(ctx, sess, colPath); err != nil {
		return nil, err
	}
	event, err := repository.NewEventRepository(sess.Q()).GetByUID(ctx, colPath, uid)
	if err != nil {
		return nil, err
	}
	return s.resolveViews(ctx, sess, event, mode)
}

func (s *EventService) resolveViews(ctx context.Context, sess *txn.Session, event *models.MasterEvent, mode models.RecurRetrievalMode) (*EventResult, error) {
	result := &EventResult{Event: event}
	if !event.Recurring {
		return result, nil
	}
	overrides, err := repository.NewEventRepository(sess.Q()).OverridesByMaster(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	maxYears, maxInstances := s.bounds(sess)
	overrideViews, instanceViews, err := s.resolver.Resolve(event, overrides, mode, maxYears, maxInstances)
	if err != nil {
		return nil, err
	}
	result.OverrideViews = overrideViews
	result.InstanceViews = instanceViews
	return result, nil
}

// Query lists a collection's events through the filter translator: SQL-pushed
// fragments narrow the store query, the residual predicate runs over resolved
// views.
func (s *EventService) Query(ctx context.Context, sess *txn.Session, filter models.EventFilter, mode models.RecurRetrievalMode) ([]models.EventView, *models.Pagination, error) {
	if _, err := s.cols.Get(ctx, sess, filter.ColPath); err != nil {
		return nil, nil, err
	}
	compiled, err := s.translator.Compile(filter.Filter)
	if err != nil {
		return nil, nil, err
	}

	events, total, err := repository.NewEventRepository(sess.Q()).List(
		ctx, filter.ColPath, compiled.Where, compiled.Args, filter.Page, filter.PageSize)
	if err != nil {
		return nil, nil, err
	}

	var views []models.EventView
	for i := range events {
		event := events[i]
		result, err := s.resolveViews(ctx, sess, &event, mode)
		if err != nil {
			if appErrors.HasCode(err, appErrors.ErrNoRecurrenceInstances.Code) {
				continue
			}
			return nil, nil, err
		}
		if !event.Recurring {
			v := models.EventView{Master: result.Event, Start: event.Start, End: event.End}
			if compiled.Matches(v) {
				views = append(views, v)
			}
			continue
		}
		combined := append(result.OverrideViews, result.InstanceViews...)
		if len(combined) == 0 {
			// A recurring master with no overrides yields no views in
			// overrides-only mode; it still has to show up in listings.
			v := models.EventView{Master: result.Event, Start: event.Start, End: event.End}
			if compiled.Matches(v) {
				views = append(views, v)
			}
			continue
		}
		for _, v := range combined {
			if compiled.Matches(v) {
				views = append(views, v)
			}
		}
	}

	page := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return views, page, nil
}

// Add persists a new event. Recurring masters are expanded and their
// instances materialized; caller-supplied overrides are matched to generated
// occurrences. With rollbackOnError any shortfall is a hard failure, otherwise
// the result reports it and the master still lands.
func (s *EventService) Add(ctx context.Context, sess *txn.Session, event *models.MasterEvent, overrides []models.Override, rollbackOnError bool) (*models.EventChangeResult, error) {
	col, err := s.cols.GetChecked(ctx, sess, event.ColPath, access.PrivBind, false)
	if err != nil {
		return nil, err
	}
	if !col.CanContainEvents() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "collection cannot contain events: "+col.Path)
	}
	if event.UID == "" || event.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "event uid and name are required")
	}
	if len(overrides) > 0 && !event.Recurring {
		return nil, appErrors.Clone(appErrors.ErrNotRecurring, "")
	}
	if event.Owner == "" {
		event.Owner = sess.Principal
	}

	repo := repository.NewEventRepository(sess.Q())
	if col.UniqueUID {
		if _, err := repo.GetByUID(ctx, event.ColPath, event.UID); err == nil {
			return nil, appErrors.Clone(appErrors.ErrDuplicateGUID, "duplicate uid: "+event.UID)
		} else if !appErrors.HasCode(err, appErrors.ErrEventNotFound.Code) {
			return nil, err
		}
	}
	if _, err := repo.GetByName(ctx, event.ColPath, event.Name); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicateName, "duplicate name: "+event.Name)
	} else if !appErrors.HasCode(err, appErrors.ErrEventNotFound.Code) {
		return nil, err
	}

	// Tombstones are evictable: re-creating the slot purges them.
	if err := repo.PurgeTombstoned(ctx, event.ColPath, event.UID); err != nil {
		return nil, err
	}

	result := &models.EventChangeResult{Event: event, AddedUpdated: true}

	if !event.Recurring {
		if err := repo.Create(ctx, event); err != nil {
			return nil, err
		}
		if err := s.finishWrite(ctx, sess, col, event, models.NotifyEntityAdded); err != nil {
			return nil, err
		}
		return result, nil
	}

	maxYears, maxInstances := s.bounds(sess)
	periods, err := s.expander.Expand(event, maxYears, maxInstances)
	if err != nil {
		if !appErrors.HasCode(err, appErrors.ErrNoRecurrenceInstances.Code) || rollbackOnError {
			return nil, err
		}
		// Soft failure: the master still lands, flagged as not added/updated.
		result.AddedUpdated = false
		if err := repo.Create(ctx, event); err != nil {
			return nil, err
		}
		if err := s.finishWrite(ctx, sess, col, event, models.NotifyEntityAdded); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := repo.Create(ctx, event); err != nil {
		return nil, err
	}

	failed, err := s.materialize(ctx, sess, event, periods, overrides, rollbackOnError, result)
	if err != nil {
		return nil, err
	}
	result.FailedOverrides = failed

	if err := s.finishWrite(ctx, sess, col, event, models.NotifyEntityAdded); err != nil {
		return nil, err
	}
	return result, nil
}

// materialize persists an instance row per period and attaches matching
// caller-supplied overrides. Whole-event annotations are persisted without
// matching; instance overrides whose recurrence-id matches no period are
// either returned as failed or, under rollbackOnError, a hard failure.
func (s *EventService) materialize(ctx context.Context, sess *txn.Session, event *models.MasterEvent, periods []models.Period, overrides []models.Override, rollbackOnError bool, result *models.EventChangeResult) ([]models.Override, error) {
	repo := repository.NewEventRepository(sess.Q())
	instances := repository.NewInstanceRepository(sess.Q())

	byRID := make(map[string]*models.Override)
	var failed []models.Override
	for i := range overrides {
		o := &overrides[i]
		o.UID = event.UID
		o.Name = event.Name
		o.MasterID = event.ID
		if !o.IsOverride {
			if err := repo.UpsertOverride(ctx, o); err != nil {
				return nil, err
			}
			continue
		}
		byRID[o.RecurrenceID] = o
	}

	for _, p := range periods {
		instance := &models.RecurrenceInstance{
			MasterID:     event.ID,
			RecurrenceID: p.RecurrenceID,
			Start:        p.Start,
			End:          p.End,
		}
		if o, ok := byRID[p.RecurrenceID]; ok {
			if err := repo.UpsertOverride(ctx, o); err != nil {
				return nil, err
			}
			instance.OverrideID = &o.ID
			delete(byRID, p.RecurrenceID)
		}
		if err := instances.Create(ctx, instance); err != nil {
			return nil, err
		}
		result.Instances.Added = append(result.Instances.Added, p.RecurrenceID)
	}

	for _, o := range byRID {
		if rollbackOnError {
			return nil, appErrors.Clone(appErrors.ErrInvalidOverride,
				"override matches no generated instance: "+o.RecurrenceID)
		}
		failed = append(failed, *o)
	}
	return failed, nil
}

// Update rewrites a master event. An unchanged recurrence rule with changed
// exdate/rdate sets gets a targeted instance diff; a changed rule triggers
// full re-expansion diffed against the persisted instance set.
func (s *EventService) Update(ctx context.Context, sess *txn.Session, event *models.MasterEvent, overrides, deletedOverrides []models.Override, rollbackOnError bool) (*models.EventChangeResult, error) {
	col, err := s.cols.GetChecked(ctx, sess, event.ColPath, access.PrivWriteContent, false)
	if err != nil {
		return nil, err
	}
	repo := repository.NewEventRepository(sess.Q())
	current, err := repo.GetByID(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if current.ColPath != event.ColPath {
		return nil, appErrors.Clone(appErrors.ErrValidation, "update may not move an event between collections")
	}
	if len(overrides) > 0 && !event.Recurring {
		return nil, appErrors.Clone(appErrors.ErrNotRecurring, "")
	}

	if event.UID != current.UID && col.UniqueUID {
		if other, err := repo.GetByUID(ctx, event.ColPath, event.UID); err == nil && other.ID != event.ID {
			return nil, appErrors.Clone(appErrors.ErrDuplicateGUID, "duplicate uid: "+event.UID)
		} else if err != nil && !appErrors.HasCode(err, appErrors.ErrEventNotFound.Code) {
			return nil, err
		}
	}
	if event.Name != current.Name {
		if other, err := repo.GetByName(ctx, event.ColPath, event.Name); err == nil && other.ID != event.ID {
			return nil, appErrors.Clone(appErrors.ErrDuplicateName, "duplicate name: "+event.Name)
		} else if err != nil && !appErrors.HasCode(err, appErrors.ErrEventNotFound.Code) {
			return nil, err
		}
	}

	event.Sequence = current.Sequence
	result := &models.EventChangeResult{Event: event, AddedUpdated: true}

	switch {
	case !event.Recurring && !current.Recurring:
		// Plain update, no instance bookkeeping.
	case !event.Recurring && current.Recurring:
		if err := s.dropSeries(ctx, sess, current, result); err != nil {
			return nil, err
		}
	case sameRules(event, current):
		if err := s.diffDates(ctx, sess, event, current, result); err != nil {
			return nil, err
		}
	default:
		if err := s.reexpand(ctx, sess, event, rollbackOnError, result); err != nil {
			return nil, err
		}
		if !result.AddedUpdated {
			event.Recurring = false
		}
	}

	if err := repo.Update(ctx, event); err != nil {
		return nil, err
	}

	// Structural instance changes precede the master's change notification;
	// per-instance override notifications follow it.
	if err := s.finishWrite(ctx, sess, col, event, models.NotifyEntityUpdated); err != nil {
		return nil, err
	}

	failed, err := s.applyOverrideChanges(ctx, sess, event, overrides, deletedOverrides, rollbackOnError)
	if err != nil {
		return nil, err
	}
	result.FailedOverrides = failed
	return result, nil
}

func sameRules(a, b *models.MasterEvent) bool {
	return a.Recurring == b.Recurring &&
		stringSlicesEqual(a.RRules, b.RRules) &&
		stringSlicesEqual(a.ExRules, b.ExRules)
}

func stringSlicesEqual(a, b models.StringArray) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffDates handles an unchanged rule with changed exdate/rdate sets: added
// exdates remove instances, removed exdates re-add them, and the rdate delta
// is applied the same way. No full re-expansion happens.
func (s *EventService) diffDates(ctx context.Context, sess *txn.Session, event, current *models.MasterEvent, result *models.EventChangeResult) error {
	repo := repository.NewEventRepository(sess.Q())
	instances := repository.NewInstanceRepository(sess.Q())
	duration := event.Duration()

	for _, ex := range event.ExDates {
		if current.ExDates.Contains(ex) {
			continue
		}
		rid := recurrence.EventRecurrenceID(event, ex)
		if err := instances.Delete(ctx, event.ID, rid); err != nil {
			return err
		}
		if err := repo.DeleteOverride(ctx, event.ID, rid); err != nil {
			return err
		}
		result.Instances.Deleted = append(result.Instances.Deleted, rid)
	}
	for _, ex := range current.ExDates {
		if event.ExDates.Contains(ex) {
			continue
		}
		rid := recurrence.EventRecurrenceID(event, ex)
		if err := instances.Create(ctx, &models.RecurrenceInstance{
			MasterID:     event.ID,
			RecurrenceID: rid,
			Start:        ex,
			End:          ex.Add(duration),
		}); err != nil {
			return err
		}
		result.Instances.Added = append(result.Instances.Added, rid)
	}

	for _, rd := range event.RDates {
		if current.RDates.Contains(rd) {
			continue
		}
		rid := recurrence.EventRecurrenceID(event, rd)
		if err := instances.Create(ctx, &models.RecurrenceInstance{
			MasterID:     event.ID,
			RecurrenceID: rid,
			Start:        rd,
			End:          rd.Add(duration),
		}); err != nil {
			return err
		}
		result.Instances.Added = append(result.Instances.Added, rid)
	}
	for _, rd := range current.RDates {
		if event.RDates.Contains(rd) {
			continue
		}
		rid := recurrence.EventRecurrenceID(event, rd)
		if err := instances.Delete(ctx, event.ID, rid); err != nil {
			return err
		}
		if err := repo.DeleteOverride(ctx, event.ID, rid); err != nil {
			return err
		}
		result.Instances.Deleted = append(result.Instances.Deleted, rid)
	}
	return nil
}

// reexpand fully re-expands a changed recurrence shape and diffs the result
// against the persisted instance set by recurrence-id.
func (s *EventService) reexpand(ctx context.Context, sess *txn.Session, event *models.MasterEvent, rollbackOnError bool, result *models.EventChangeResult) error {
	maxYears, maxInstances := s.bounds(sess)
	periods, err := s.expander.Expand(event, maxYears, maxInstances)
	if err != nil {
		if !appErrors.HasCode(err, appErrors.ErrNoRecurrenceInstances.Code) || rollbackOnError {
			return err
		}
		result.AddedUpdated = false
		periods = nil
	}

	repo := repository.NewEventRepository(sess.Q())
	instances := repository.NewInstanceRepository(sess.Q())
	existing, err := instances.ByMaster(ctx, event.ID)
	if err != nil {
		return err
	}
	existingByRID := make(map[string]models.RecurrenceInstance, len(existing))
	for _, in := range existing {
		existingByRID[in.RecurrenceID] = in
	}

	for _, p := range periods {
		if old, ok := existingByRID[p.RecurrenceID]; ok {
			delete(existingByRID, p.RecurrenceID)
			if old.Start.Equal(p.Start) && old.End.Equal(p.End) {
				continue
			}
			old.Start = p.Start
			old.End = p.End
			if err := instances.Update(ctx, &old); err != nil {
				return err
			}
			result.Instances.Updated = append(result.Instances.Updated, p.RecurrenceID)
			continue
		}
		if err := instances.Create(ctx, &models.RecurrenceInstance{
			MasterID:     event.ID,
			RecurrenceID: p.RecurrenceID,
			Start:        p.Start,
			End:          p.End,
		}); err != nil {
			return err
		}
		result.Instances.Added = append(result.Instances.Added, p.RecurrenceID)
	}

	for rid := range existingByRID {
		if err := instances.Delete(ctx, event.ID, rid); err != nil {
			return err
		}
		if err := repo.DeleteOverride(ctx, event.ID, rid); err != nil {
			return err
		}
		result.Instances.Deleted = append(result.Instances.Deleted, rid)
	}
	return nil
}

// applyOverrideChanges upserts and deletes caller-supplied overrides after the
// master update, emitting a per-instance notification tagged with each
// recurrence-id.
func (s *EventService) applyOverrideChanges(ctx context.Context, sess *txn.Session, event *models.MasterEvent, overrides, deleted []models.Override, rollbackOnError bool) ([]models.Override, error) {
	repo := repository.NewEventRepository(sess.Q())
	instances := repository.NewInstanceRepository(sess.Q())

	var failed []models.Override
	for i := range overrides {
		o := overrides[i]
		o.MasterID = event.ID
		o.UID = event.UID
		o.Name = event.Name
		if o.IsOverride {
			instance, err := instances.Get(ctx, event.ID, o.RecurrenceID)
			if err != nil {
				return nil, err
			}
			if instance == nil {
				if rollbackOnError {
					return nil, appErrors.Clone(appErrors.ErrInvalidOverride,
						"override matches no generated instance: "+o.RecurrenceID)
				}
				failed = append(failed, o)
				continue
			}
			if err := repo.UpsertOverride(ctx, &o); err != nil {
				return nil, err
			}
			instance.OverrideID = &o.ID
			if err := instances.Update(ctx, instance); err != nil {
				return nil, err
			}
		} else if err := repo.UpsertOverride(ctx, &o); err != nil {
			return nil, err
		}
		sess.QueueNotification(models.Notification{
			Type:         models.NotifyEntityUpdated,
			Owner:        event.Owner,
			Path:         event.ColPath,
			Href:         event.Href(),
			RecurrenceID: o.RecurrenceID,
		})
	}

	for _, o := range deleted {
		if err := repo.DeleteOverride(ctx, event.ID, o.RecurrenceID); err != nil {
			return nil, err
		}
		if instance, err := instances.Get(ctx, event.ID, o.RecurrenceID); err != nil {
			return nil, err
		} else if instance != nil && instance.OverrideID != nil {
			instance.OverrideID = nil
			if err := instances.Update(ctx, instance); err != nil {
				return nil, err
			}
		}
		sess.QueueNotification(models.Notification{
			Type:         models.NotifyEntityUpdated,
			Owner:        event.Owner,
			Path:         event.ColPath,
			Href:         event.Href(),
			RecurrenceID: o.RecurrenceID,
		})
	}
	return failed, nil
}

// dropSeries removes every instance and override of a master that stops being
// recurring, notifying each instance deletion.
func (s *EventService) dropSeries(ctx context.Context, sess *txn.Session, current *models.MasterEvent, result *models.EventChangeResult) error {
	instances := repository.NewInstanceRepository(sess.Q())
	existing, err := instances.ByMaster(ctx, current.ID)
	if err != nil {
		return err
	}
	for _, in := range existing {
		sess.QueueNotification(models.Notification{
			Type:         models.NotifyEntityDeleted,
			Owner:        current.Owner,
			Path:         current.ColPath,
			Href:         current.Href(),
			RecurrenceID: in.RecurrenceID,
		})
		result.Instances.Deleted = append(result.Instances.Deleted, in.RecurrenceID)
	}
	if err := instances.DeleteByMaster(ctx, current.ID); err != nil {
		return err
	}
	return repository.NewEventRepository(sess.Q()).DeleteOverridesByMaster(ctx, current.ID)
}

// Delete removes an event, one occurrence of it, or its whole series.
// recurrenceID selects a single occurrence; reallyDelete chooses hard delete
// over tombstoning. Deleting an already-tombstoned event without reallyDelete
// is a no-op success.
func (s *EventService) Delete(ctx context.Context, sess *txn.Session, colPath, name, recurrenceID string, reallyDelete bool) (bool, error) {
	col, err := s.cols.GetChecked(ctx, sess, colPath, access.PrivUnbind, false)
	if err != nil {
		return false, err
	}

	repo := repository.NewEventRepository(sess.Q())
	event, err := repo.GetByName(ctx, colPath, name)
	if err != nil {
		if !appErrors.HasCode(err, appErrors.ErrEventNotFound.Code) {
			return false, err
		}
		tomb, terr := repo.GetTombstonedByName(ctx, colPath, name)
		if terr != nil {
			return false, terr
		}
		if tomb == nil {
			return false, err
		}
		if !reallyDelete {
			// Already tombstoned: idempotent success, no side effects re-run.
			return true, nil
		}
		if err := repo.ClearAttendees(ctx, tomb.ID); err != nil {
			return false, err
		}
		if err := repo.Delete(ctx, tomb.ID); err != nil {
			return false, err
		}
		sess.QueueUnindex(tomb.Href())
		return true, nil
	}

	if recurrenceID != "" {
		return s.deleteInstance(ctx, sess, col, event, recurrenceID)
	}

	if event.Recurring {
		instances := repository.NewInstanceRepository(sess.Q())
		existing, err := instances.ByMaster(ctx, event.ID)
		if err != nil {
			return false, err
		}
		// Each instance gets its own deletion notification before the master's.
		for _, in := range existing {
			sess.QueueNotification(models.Notification{
				Type:         models.NotifyEntityDeleted,
				Owner:        event.Owner,
				Path:         colPath,
				Href:         event.Href(),
				RecurrenceID: in.RecurrenceID,
			})
		}
		if err := instances.DeleteByMaster(ctx, event.ID); err != nil {
			return false, err
		}
		if err := repo.DeleteOverridesByMaster(ctx, event.ID); err != nil {
			return false, err
		}
	}

	if reallyDelete {
		// Referential cleanup precedes the physical delete.
		if err := repo.ClearAttendees(ctx, event.ID); err != nil {
			return false, err
		}
		if err := repo.Delete(ctx, event.ID); err != nil {
			return false, err
		}
		sess.QueueUnindex(event.Href())
	} else {
		if err := repo.Tombstone(ctx, event); err != nil {
			return false, err
		}
		sess.QueueIndex(index.EventEntry(event))
	}

	if err := repository.NewCollectionRepository(sess.Q()).Touch(ctx, colPath); err != nil {
		return false, err
	}
	sess.Cache().Remove(colPath)
	sess.QueueNotification(models.Notification{
		Type:   models.NotifyEntityDeleted,
		Owner:  event.Owner,
		Path:   colPath,
		Href:   event.Href(),
		Shared: col.Shared,
		Public: col.Public,
	})
	return true, nil
}

// deleteInstance removes one occurrence of a recurring series: the instance
// row and any attached override go away, and the exclusion is recorded on the
// master by removing the producing rdate or adding an exdate.
func (s *EventService) deleteInstance(ctx context.Context, sess *txn.Session, col *models.Collection, event *models.MasterEvent, recurrenceID string) (bool, error) {
	if !event.Recurring {
		return false, appErrors.Clone(appErrors.ErrNotRecurring, "occurrence delete on a non-recurring event")
	}

	repo := repository.NewEventRepository(sess.Q())
	instances := repository.NewInstanceRepository(sess.Q())
	instance, err := instances.Get(ctx, event.ID, recurrenceID)
	if err != nil {
		return false, err
	}
	if instance == nil {
		return false, appErrors.Clone(appErrors.ErrEventNotFound, "no occurrence "+recurrenceID)
	}

	if err := instances.Delete(ctx, event.ID, recurrenceID); err != nil {
		return false, err
	}
	if err := repo.DeleteOverride(ctx, event.ID, recurrenceID); err != nil {
		return false, err
	}

	occurrence, err := recurrence.ParseRecurrenceID(recurrenceID, event.Start.Location())
	if err != nil {
		return false, err
	}
	if event.RDates.Contains(occurrence) {
		kept := make(models.TimeArray, 0, len(event.RDates)-1)
		for _, rd := range event.RDates {
			if !rd.Equal(occurrence) {
				kept = append(kept, rd)
			}
		}
		event.RDates = kept
	} else {
		event.ExDates = append(event.ExDates, occurrence)
	}
	if err := repo.Update(ctx, event); err != nil {
		return false, err
	}

	if err := repository.NewCollectionRepository(sess.Q()).Touch(ctx, event.ColPath); err != nil {
		return false, err
	}
	sess.Cache().Remove(event.ColPath)
	sess.QueueNotification(models.Notification{
		Type:         models.NotifyEntityDeleted,
		Owner:        event.Owner,
		Path:         event.ColPath,
		Href:         event.Href(),
		RecurrenceID: recurrenceID,
		Shared:       col.Shared,
		Public:       col.Public,
	})
	return true, nil
}

// finishWrite queues the common post-write side effects: index entry, change
// notification and parent lastmod touch. A failed touch aborts the write; the
// parent's sequence bump is what sync clients key change detection on.
func (s *EventService) finishWrite(ctx context.Context, sess *txn.Session, col *models.Collection, event *models.MasterEvent, kind models.NotificationType) error {
	sess.QueueIndex(index.EventEntry(event))
	sess.QueueNotification(models.Notification{
		Type:   kind,
		Owner:  event.Owner,
		Path:   event.ColPath,
		Href:   event.Href(),
		Shared: col.Shared,
		Public: col.Public,
	})
	if err := repository.NewCollectionRepository(sess.Q()).Touch(ctx, col.Path); err != nil {
		return err
	}
	sess.Cache().Remove(col.Path)
	return nil
}
