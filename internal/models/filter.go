package models

import "time"

// The filter tree mirrors the structural calendar-query shape: a component
// filter optionally constrained by a time range, property filters and nested
// component filters.

// TextMatch constrains a property's text value.
type TextMatch struct {
	MatchType string // "equals" or "contains" (default)
	Negate    bool
	Value     string
}

// PropFilter constrains one named property.
type PropFilter struct {
	Name         string // "UID", "SUMMARY", "DESCRIPTION", "LOCATION"
	IsNotDefined bool
	TextMatch    *TextMatch
}

// TimeRange constrains occurrences to an interval. Nil ends are open.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Filter is the root node of a structural event filter.
type Filter struct {
	TimeRange   *TimeRange
	PropFilters []PropFilter
	Test        string // "anyof" or "allof" (default)
}

// EventFilter narrows stored events inside one collection.
type EventFilter struct {
	ColPath  string
	Filter   *Filter
	Page     int
	PageSize int
}

// Pagination describes a paged result set.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
