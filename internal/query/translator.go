package query

import (
	"strings"
	"time"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// Compiled is the two-stage form of a structural filter: SQL fragments pushed
// into the master-row query, plus a residual predicate evaluated over resolved
// views. The SQL stage may over-select but never under-selects.
type Compiled struct {
	// Where holds ?-placeholder fragments joined with AND.
	Where []string
	Args  []interface{}
	// Post is the residual predicate; nil means every selected view matches.
	Post func(v models.EventView) bool
}

// Translator compiles structural event filters.
type Translator struct{}

// Compile turns a filter tree into its two-stage form. A nil filter compiles
// to match-everything.
func (Translator) Compile(f *models.Filter) (*Compiled, error) {
	if f == nil {
		return &Compiled{}, nil
	}
	c := &Compiled{}

	if f.TimeRange != nil {
		if f.TimeRange.Start == nil && f.TimeRange.End == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "time range needs at least one bound")
		}
		if f.TimeRange.Start != nil && f.TimeRange.End != nil && !f.TimeRange.End.After(*f.TimeRange.Start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "time range end must be after start")
		}
		// Recurring masters escape the SQL bound: their occurrences live
		// outside the master's own span and get checked per view instead.
		if f.TimeRange.End != nil {
			c.Where = append(c.Where, "(recurring OR dtstart < ?)")
			c.Args = append(c.Args, f.TimeRange.End.UTC())
		}
		if f.TimeRange.Start != nil {
			c.Where = append(c.Where, "(recurring OR dtend > ?)")
			c.Args = append(c.Args, f.TimeRange.Start.UTC())
		}
	}

	anyOf := f.Test == "anyof"
	var residual []func(models.EventView) bool

	for i := range f.PropFilters {
		pf := f.PropFilters[i]
		pred, err := propPredicate(pf)
		if err != nil {
			return nil, err
		}
		// With allof semantics an exact uid/summary match is pushable; under
		// anyof the whole disjunction must stay in memory.
		if !anyOf {
			if frag, arg, ok := pushable(pf); ok {
				c.Where = append(c.Where, frag)
				c.Args = append(c.Args, arg)
				continue
			}
		}
		residual = append(residual, pred)
	}

	tr := f.TimeRange
	needsTime := tr != nil
	if len(residual) == 0 && !needsTime {
		return c, nil
	}

	c.Post = func(v models.EventView) bool {
		if needsTime && !overlaps(v, tr) {
			return false
		}
		if len(residual) == 0 {
			return true
		}
		if anyOf {
			for _, p := range residual {
				if p(v) {
					return true
				}
			}
			return false
		}
		for _, p := range residual {
			if !p(v) {
				return false
			}
		}
		return true
	}
	return c, nil
}

// Matches applies a compiled filter's residual stage to one view.
func (c *Compiled) Matches(v models.EventView) bool {
	if c == nil || c.Post == nil {
		return true
	}
	return c.Post(v)
}

func pushable(pf models.PropFilter) (string, interface{}, bool) {
	if pf.IsNotDefined || pf.TextMatch == nil || pf.TextMatch.Negate {
		return "", nil, false
	}
	if pf.TextMatch.MatchType != "equals" {
		return "", nil, false
	}
	switch strings.ToUpper(pf.Name) {
	case "UID":
		return "uid = ?", pf.TextMatch.Value, true
	case "SUMMARY":
		// Pushing summary only narrows masters; an override may still change
		// the resolved value, so equality on summary stays in memory.
		return "", nil, false
	}
	return "", nil, false
}

func propPredicate(pf models.PropFilter) (func(models.EventView) bool, error) {
	name := strings.ToUpper(pf.Name)
	value := func(v models.EventView) (string, bool) {
		switch name {
		case "UID":
			return v.Master.UID, true
		case "SUMMARY":
			return v.Summary(), v.Summary() != ""
		case "DESCRIPTION":
			return v.Description(), v.Description() != ""
		case "LOCATION":
			loc := v.Location()
			if loc == nil {
				return "", false
			}
			return *loc, true
		}
		return "", false
	}
	switch name {
	case "UID", "SUMMARY", "DESCRIPTION", "LOCATION":
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported property filter: "+pf.Name)
	}

	if pf.IsNotDefined {
		return func(v models.EventView) bool {
			_, defined := value(v)
			return !defined
		}, nil
	}
	tm := pf.TextMatch
	if tm == nil {
		return func(v models.EventView) bool {
			_, defined := value(v)
			return defined
		}, nil
	}
	if tm.MatchType != "" && tm.MatchType != "equals" && tm.MatchType != "contains" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported match type: "+tm.MatchType)
	}
	return func(v models.EventView) bool {
		got, defined := value(v)
		var matched bool
		if defined {
			if tm.MatchType == "equals" {
				matched = got == tm.Value
			} else {
				matched = strings.Contains(strings.ToLower(got), strings.ToLower(tm.Value))
			}
		}
		if tm.Negate {
			return !matched
		}
		return matched
	}, nil
}

func overlaps(v models.EventView, tr *models.TimeRange) bool {
	start, end := v.Start, v.End
	if start.IsZero() {
		start = v.Master.Start
	}
	if end.IsZero() {
		end = v.Master.End
	}
	if tr.End != nil && !start.Before(*tr.End) {
		return false
	}
	if tr.Start != nil && !end.After(*tr.Start) {
		// Zero-length occurrences at the range start still count.
		if !(end.Equal(start) && end.Equal(*tr.Start)) {
			return false
		}
	}
	return true
}

// SpanOf returns the effective occurrence span of a view: its own bounds when
// set, the master's otherwise.
func SpanOf(v models.EventView) (time.Time, time.Time) {
	start, end := v.Start, v.End
	if start.IsZero() {
		start = v.Master.Start
	}
	if end.IsZero() {
		end = v.Master.End
	}
	return start, end
}
