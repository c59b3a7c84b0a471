package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// Expander generates the bounded, ordered occurrence periods of a recurring
// master event. It is pure computation: no I/O, no shared state.
type Expander struct{}

// NewExpander constructs an expander.
func NewExpander() *Expander {
	return &Expander{}
}

// Expand produces the ordered, deduplicated occurrence periods of master,
// truncated at whichever of the year-span or instance-count bound is hit
// first. Truncation is silent; an empty result for a recurring master is the
// distinct NO_RECURRENCE_INSTANCES condition.
func (x *Expander) Expand(master *models.MasterEvent, maxYears, maxInstances int) ([]models.Period, error) {
	if master.Start.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurring event requires a start date")
	}
	if len(master.RRules) == 0 && len(master.RDates) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "event has no recurrence rules or rdates")
	}
	if maxYears <= 0 || maxInstances <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expansion bounds must be positive")
	}

	horizon := master.Start.AddDate(maxYears, 0, 0)
	duration := master.Duration()

	candidates, err := x.ruleStarts(master.Start, master.RRules, horizon)
	if err != nil {
		return nil, err
	}
	for _, rd := range master.RDates {
		if !rd.After(horizon) {
			candidates = append(candidates, rd)
		}
	}

	excluded, err := x.exclusions(master, horizon)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

	periods := make([]models.Period, 0, min(len(candidates), maxInstances))
	lastRID := ""
	for _, start := range candidates {
		rid := EventRecurrenceID(master, start)
		// The merged stream can repeat a recurrence-id: an RDATE equal to
		// DTSTART reproduces the rule's first occurrence. Equal ids are
		// adjacent after sorting, so one comparison drops the artifact.
		if rid == lastRID {
			continue
		}
		lastRID = rid
		if _, skip := excluded[rid]; skip {
			continue
		}
		periods = append(periods, models.Period{
			Start:        start,
			End:          start.Add(duration),
			RecurrenceID: rid,
		})
		if len(periods) == maxInstances {
			break
		}
	}

	if len(periods) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoRecurrenceInstances,
			fmt.Sprintf("event %q generated no instances", master.Name))
	}
	return periods, nil
}

// ruleStarts expands every rule up to horizon and merges the raw starts.
func (x *Expander) ruleStarts(dtstart time.Time, rules models.StringArray, horizon time.Time) ([]time.Time, error) {
	var starts []time.Time
	for _, raw := range rules {
		r, err := rrule.StrToRRule(strings.TrimPrefix(raw, "RRULE:"))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
				fmt.Sprintf("unparseable recurrence rule %q", raw))
		}
		r.DTStart(dtstart)

		var set rrule.Set
		set.DTStart(dtstart)
		set.RRule(r)
		starts = append(starts, set.Between(dtstart, horizon, true)...)
	}
	return starts, nil
}

// exclusions collects the recurrence-ids removed by exdates and exrules.
func (x *Expander) exclusions(master *models.MasterEvent, horizon time.Time) (map[string]struct{}, error) {
	excluded := make(map[string]struct{}, len(master.ExDates))
	for _, ex := range master.ExDates {
		excluded[EventRecurrenceID(master, ex)] = struct{}{}
	}
	if len(master.ExRules) > 0 {
		exStarts, err := x.ruleStarts(master.Start, master.ExRules, horizon)
		if err != nil {
			return nil, err
		}
		for _, ex := range exStarts {
			excluded[EventRecurrenceID(master, ex)] = struct{}{}
		}
	}
	return excluded, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
