package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"github.com/samber/mo"
)

// MasterEvent is the primary event definition stored in a collection. For
// recurring events it carries the recurrence shape from which instances are
// generated.
type MasterEvent struct {
	ID          string      `db:"id" json:"id"`
	ColPath     string      `db:"col_path" json:"col_path"`
	UID         string      `db:"uid" json:"uid"`
	Name        string      `db:"name" json:"name"`
	Summary     string      `db:"summary" json:"summary"`
	Description string      `db:"description" json:"description"`
	Location    *string     `db:"location" json:"location,omitempty"`
	Start       time.Time   `db:"dtstart" json:"start"`
	End         time.Time   `db:"dtend" json:"end"`
	Floating    bool        `db:"floating" json:"floating"`
	DateOnly    bool        `db:"date_only" json:"date_only"`
	Recurring   bool        `db:"recurring" json:"recurring"`
	RRules      StringArray `db:"rrules" json:"rrules,omitempty"`
	ExRules     StringArray `db:"exrules" json:"exrules,omitempty"`
	RDates      TimeArray   `db:"rdates" json:"rdates,omitempty"`
	ExDates     TimeArray   `db:"exdates" json:"exdates,omitempty"`
	Attendees   StringArray `db:"attendees" json:"attendees,omitempty"`
	Owner       string      `db:"owner" json:"owner"`
	Tombstoned  bool        `db:"tombstoned" json:"tombstoned"`
	Sequence    int         `db:"sequence" json:"sequence"`
	LastMod     time.Time   `db:"lastmod" json:"lastmod"`
}

// Duration returns the span of a single occurrence.
func (e *MasterEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Href is the addressable path of the event within its collection.
func (e *MasterEvent) Href() string {
	return e.ColPath + "/" + e.Name
}

// AccessPath implements access.Entity.
func (e *MasterEvent) AccessPath() string { return e.Href() }

// AccessOwner implements access.Entity.
func (e *MasterEvent) AccessOwner() string { return e.Owner }

// Override is a stored exception to one occurrence of a recurring master
// (IsOverride true) or an annotation of the whole event (IsOverride false).
// Only the overridden fields are non-nil; everything else resolves to the
// master. UID and Name always equal the master's.
type Override struct {
	ID           string     `db:"id" json:"id"`
	MasterID     string     `db:"master_id" json:"master_id"`
	UID          string     `db:"uid" json:"uid"`
	Name         string     `db:"name" json:"name"`
	RecurrenceID string     `db:"recurrence_id" json:"recurrence_id"`
	IsOverride   bool       `db:"is_override" json:"is_override"`
	Summary      *string    `db:"summary" json:"summary,omitempty"`
	Description  *string    `db:"description" json:"description,omitempty"`
	Location     *string    `db:"location" json:"location,omitempty"`
	Start        *time.Time `db:"dtstart" json:"start,omitempty"`
	End          *time.Time `db:"dtend" json:"end,omitempty"`
	LastMod      time.Time  `db:"lastmod" json:"lastmod"`
}

// RecurrenceInstance is the sparse persisted row for one generated occurrence
// of a recurring master: start, end and an optional override pointer. It never
// duplicates full event data.
type RecurrenceInstance struct {
	ID           string    `db:"id" json:"id"`
	MasterID     string    `db:"master_id" json:"master_id"`
	RecurrenceID string    `db:"recurrence_id" json:"recurrence_id"`
	Start        time.Time `db:"dtstart" json:"start"`
	End          time.Time `db:"dtend" json:"end"`
	OverrideID   *string   `db:"override_id" json:"override_id,omitempty"`
}

// Period is one generated occurrence span.
type Period struct {
	Start        time.Time
	End          time.Time
	RecurrenceID string
}

// RecurRetrievalMode selects how much of a recurring series a read resolves.
type RecurRetrievalMode int

const (
	// RetrieveOverridesOnly resolves persisted overrides but does not expand
	// the series.
	RetrieveOverridesOnly RecurRetrievalMode = iota
	// RetrieveExpanded additionally synthesizes a view per generated
	// occurrence not covered by an override.
	RetrieveExpanded
)

// EventView is the transient merged read-side representation: a master plus an
// optional override superimposed on it. Views are never persisted.
type EventView struct {
	Master       *MasterEvent
	Override     mo.Option[Override]
	RecurrenceID string
	Start        time.Time
	End          time.Time
	// Synthetic marks a pseudo-override generated from expansion with no
	// persisted override row behind it.
	Synthetic bool
}

// IsOverride reports whether this view carries a persisted override.
func (v EventView) IsOverride() bool { return v.Override.IsPresent() }

// Summary resolves the override's summary when set, else the master's.
func (v EventView) Summary() string {
	if o, ok := v.Override.Get(); ok && o.Summary != nil {
		return *o.Summary
	}
	return v.Master.Summary
}

// Description resolves the override's description when set, else the master's.
func (v EventView) Description() string {
	if o, ok := v.Override.Get(); ok && o.Description != nil {
		return *o.Description
	}
	return v.Master.Description
}

// Location resolves the override's location when set, else the master's.
func (v EventView) Location() *string {
	if o, ok := v.Override.Get(); ok && o.Location != nil {
		return o.Location
	}
	return v.Master.Location
}

// ChangeSummary classifies per-instance effects of an event mutation by
// recurrence-id.
type ChangeSummary struct {
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
}

// EventChangeResult reports the outcome of an add or update. AddedUpdated is
// false when the caller opted into soft failure and the expansion produced no
// usable instances. FailedOverrides lists caller-supplied overrides whose
// recurrence-ids matched no generated occurrence.
type EventChangeResult struct {
	Event           *MasterEvent  `json:"event"`
	AddedUpdated    bool          `json:"added_updated"`
	FailedOverrides []Override    `json:"failed_overrides,omitempty"`
	Instances       ChangeSummary `json:"instances"`
}

// StringArray stores a text[] column.
type StringArray []string

// Scan implements sql.Scanner.
func (a *StringArray) Scan(src interface{}) error {
	return (*pq.StringArray)(a).Scan(src)
}

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	return pq.StringArray(a).Value()
}

// TimeArray stores a timestamptz[] column.
type TimeArray []time.Time

// Scan implements sql.Scanner.
func (a *TimeArray) Scan(src interface{}) error {
	return pq.GenericArray{A: (*[]time.Time)(a)}.Scan(src)
}

// Value implements driver.Valuer.
func (a TimeArray) Value() (driver.Value, error) {
	return pq.GenericArray{A: []time.Time(a)}.Value()
}

// Contains reports whether the array holds an equal instant.
func (a TimeArray) Contains(t time.Time) bool {
	for _, x := range a {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
