package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/query"
	"github.com/noah-isme/calcore/internal/txn"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// BusyPeriod is one merged busy interval in a free/busy report.
type BusyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FreeBusyService aggregates the busy intervals of a collection over a time
// range, consuming the recurrence engine's expanded views. Aliases resolve
// under the weaker free-busy read privilege.
type FreeBusyService struct {
	events  *EventService
	aliases *AliasResolver
	logger  *zap.Logger
}

// NewFreeBusyService constructs the free/busy service.
func NewFreeBusyService(events *EventService, aliases *AliasResolver, logger *zap.Logger) *FreeBusyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FreeBusyService{events: events, aliases: aliases, logger: logger}
}

// BusyPeriods reports the merged busy intervals of the collection at path
// between start and end. An alias path is chased to its leaf; an unresolvable
// alias yields an empty report, not an error.
func (s *FreeBusyService) BusyPeriods(ctx context.Context, sess *txn.Session, path string, start, end time.Time) ([]BusyPeriod, error) {
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "free/busy range end must be after start")
	}

	col, err := s.events.cols.Get(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	if col.IsAlias() {
		target, err := s.aliases.Resolve(ctx, sess, col, true, true)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return []BusyPeriod{}, nil
		}
		col = target
	}

	views, _, err := s.events.Query(ctx, sess, models.EventFilter{
		ColPath: col.Path,
		Filter:  &models.Filter{TimeRange: &models.TimeRange{Start: &start, End: &end}},
	}, models.RetrieveExpanded)
	if err != nil {
		return nil, err
	}

	periods := make([]BusyPeriod, 0, len(views))
	for _, v := range views {
		vs, ve := query.SpanOf(v)
		if vs.Before(start) {
			vs = start
		}
		if ve.After(end) {
			ve = end
		}
		if ve.After(vs) {
			periods = append(periods, BusyPeriod{Start: vs, End: ve})
		}
	}
	return mergePeriods(periods), nil
}

// mergePeriods collapses overlapping and adjacent intervals into a minimal
// sorted set.
func mergePeriods(periods []BusyPeriod) []BusyPeriod {
	if len(periods) == 0 {
		return periods
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Start.Equal(periods[j].Start) {
			return periods[i].End.Before(periods[j].End)
		}
		return periods[i].Start.Before(periods[j].Start)
	})
	merged := periods[:1]
	for _, p := range periods[1:] {
		last := &merged[len(merged)-1]
		if !p.Start.After(last.End) {
			if p.End.After(last.End) {
				last.End = p.End
			}
			continue
		}
		merged = append(merged, p)
	}
	return merged
}
