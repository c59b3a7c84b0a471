package recurrence

import (
	"sort"
	"time"

	"github.com/samber/mo"

	"github.com/noah-isme/calcore/internal/models"
)

// Resolver merges a master event with its persisted overrides into the
// uniform read-side views. At most one override exists per recurrence-id;
// that invariant is enforced at write time.
type Resolver struct {
	expander *Expander
}

// NewResolver constructs a resolver over the given expander.
func NewResolver(expander *Expander) *Resolver {
	return &Resolver{expander: expander}
}

// Resolve computes the override views and, in expanded mode, a synthetic
// instance view for every generated period whose recurrence-id no override
// covers. Overrides always take precedence over generated instances sharing a
// recurrence-id.
func (r *Resolver) Resolve(master *models.MasterEvent, overrides []models.Override,
	mode models.RecurRetrievalMode, maxYears, maxInstances int) (overrideViews, instanceViews []models.EventView, err error) {

	covered := make(map[string]struct{}, len(overrides))
	overrideViews = make([]models.EventView, 0, len(overrides))
	for _, o := range overrides {
		view, verr := r.overrideView(master, o)
		if verr != nil {
			return nil, nil, verr
		}
		overrideViews = append(overrideViews, view)
		if o.IsOverride {
			covered[o.RecurrenceID] = struct{}{}
		}
	}
	sort.Slice(overrideViews, func(i, j int) bool {
		return overrideViews[i].RecurrenceID < overrideViews[j].RecurrenceID
	})

	if mode != models.RetrieveExpanded || !master.Recurring {
		return overrideViews, nil, nil
	}

	periods, err := r.expander.Expand(master, maxYears, maxInstances)
	if err != nil {
		return nil, nil, err
	}
	instanceViews = make([]models.EventView, 0, len(periods))
	for _, p := range periods {
		if _, ok := covered[p.RecurrenceID]; ok {
			continue
		}
		instanceViews = append(instanceViews, models.EventView{
			Master:       master,
			Override:     mo.None[models.Override](),
			RecurrenceID: p.RecurrenceID,
			Start:        p.Start,
			End:          p.End,
			Synthetic:    true,
		})
	}
	return overrideViews, instanceViews, nil
}

// overrideView superimposes an override's own start/end/recurrence-id on the
// master's other fields.
func (r *Resolver) overrideView(master *models.MasterEvent, o models.Override) (models.EventView, error) {
	start, end, err := overrideSpan(master, o)
	if err != nil {
		return models.EventView{}, err
	}
	return models.EventView{
		Master:       master,
		Override:     mo.Some(o),
		RecurrenceID: o.RecurrenceID,
		Start:        start,
		End:          end,
	}, nil
}

// overrideSpan resolves the concrete occurrence interval of an override:
// its own start/end where set, otherwise the occurrence the recurrence-id
// names with the master's duration.
func overrideSpan(master *models.MasterEvent, o models.Override) (time.Time, time.Time, error) {
	var start time.Time
	if o.Start != nil {
		start = *o.Start
	} else if o.RecurrenceID != "" {
		parsed, err := ParseRecurrenceID(o.RecurrenceID, master.Start.Location())
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	} else {
		// Whole-event annotation without its own timing.
		start = master.Start
	}
	if o.End != nil {
		return start, *o.End, nil
	}
	return start, start.Add(master.Duration()), nil
}
