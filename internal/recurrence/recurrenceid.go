package recurrence

import (
	"fmt"
	"time"

	"github.com/noah-isme/calcore/internal/models"
)

// Recurrence-ids are fixed-width, zero-padded date-time strings so that
// lexical equality and ordering are safe:
//
//	20060102T150405Z  UTC events
//	20060102T150405   floating events
//	20060102          date-only events (8 chars)
const (
	ridLayoutUTC      = "20060102T150405Z"
	ridLayoutFloating = "20060102T150405"
	ridLayoutDate     = "20060102"
)

// FormatRecurrenceID normalizes an occurrence start into its recurrence-id.
func FormatRecurrenceID(t time.Time, dateOnly, floating bool) string {
	switch {
	case dateOnly:
		return t.Format(ridLayoutDate)
	case floating:
		return t.Format(ridLayoutFloating)
	default:
		return t.UTC().Format(ridLayoutUTC)
	}
}

// EventRecurrenceID normalizes an occurrence start using the master's
// date-only/floating shape.
func EventRecurrenceID(e *models.MasterEvent, t time.Time) string {
	return FormatRecurrenceID(t, e.DateOnly, e.Floating)
}

// ParseRecurrenceID turns a recurrence-id back into its occurrence start.
// Floating and date-only ids are interpreted in loc.
func ParseRecurrenceID(rid string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch len(rid) {
	case len(ridLayoutUTC):
		return time.Parse(ridLayoutUTC, rid)
	case len(ridLayoutFloating):
		return time.ParseInLocation(ridLayoutFloating, rid, loc)
	case len(ridLayoutDate):
		return time.ParseInLocation(ridLayoutDate, rid, loc)
	}
	return time.Time{}, fmt.Errorf("malformed recurrence-id %q", rid)
}
