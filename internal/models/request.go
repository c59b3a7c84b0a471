package models

import "time"

// RegisterRequest creates a new principal account.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"max=200"`
	Password    string `json:"password" validate:"required,min=8"`
}

// LoginRequest authenticates a principal.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and account info.
type LoginResponse struct {
	Token     string     `json:"token"`
	Principal *Principal `json:"principal"`
}

// PreferenceRequest updates per-principal calendar settings.
type PreferenceRequest struct {
	DefaultCalendarPath *string `json:"default_calendar_path"`
	Timezone            string  `json:"timezone"`
}

// CollectionCreateRequest creates a collection under an existing folder.
type CollectionCreateRequest struct {
	ParentPath  string  `json:"parent_path" validate:"required"`
	Name        string  `json:"name" validate:"required,max=255"`
	Type        string  `json:"type" validate:"required,oneof=folder calendar alias resources inbox outbox notifications"`
	AliasTarget *string `json:"alias_target,omitempty"`
	UniqueUID   bool    `json:"unique_uid"`
	Shared      bool    `json:"shared"`
	Public      bool    `json:"public"`
}

// Collection maps the request onto a storable collection owned by the actor.
func (r CollectionCreateRequest) Collection(owner string) *Collection {
	return &Collection{
		ParentPath:  r.ParentPath,
		Name:        r.Name,
		Type:        CollectionType(r.Type),
		Owner:       owner,
		Creator:     owner,
		AliasTarget: r.AliasTarget,
		UniqueUID:   r.UniqueUID,
		Shared:      r.Shared,
		Public:      r.Public,
	}
}

// CollectionRenameRequest renames a collection in place.
type CollectionRenameRequest struct {
	Path    string `json:"path" validate:"required"`
	NewName string `json:"new_name" validate:"required,max=255"`
}

// CollectionMoveRequest reparents a collection subtree.
type CollectionMoveRequest struct {
	Path          string `json:"path" validate:"required"`
	NewParentPath string `json:"new_parent_path" validate:"required"`
}

// EventWriteRequest adds or updates an event with optional overrides.
type EventWriteRequest struct {
	Event            MasterEvent `json:"event" validate:"required"`
	Overrides        []Override  `json:"overrides,omitempty"`
	DeletedOverrides []Override  `json:"deleted_overrides,omitempty"`
	RollbackOnError  bool        `json:"rollback_on_error"`
}

// TextMatchRequest is the wire form of a text constraint.
type TextMatchRequest struct {
	MatchType string `json:"match_type" validate:"omitempty,oneof=equals contains"`
	Negate    bool   `json:"negate"`
	Value     string `json:"value"`
}

// PropFilterRequest is the wire form of a property constraint.
type PropFilterRequest struct {
	Name         string            `json:"name" validate:"required"`
	IsNotDefined bool              `json:"is_not_defined"`
	TextMatch    *TextMatchRequest `json:"text_match,omitempty"`
}

// TimeRangeRequest is the wire form of an interval constraint.
type TimeRangeRequest struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// FilterRequest is the wire form of a structural event filter.
type FilterRequest struct {
	TimeRange   *TimeRangeRequest   `json:"time_range,omitempty"`
	PropFilters []PropFilterRequest `json:"prop_filters,omitempty"`
	Test        string              `json:"test" validate:"omitempty,oneof=anyof allof"`
}

// Filter converts the request into the internal filter tree.
func (r *FilterRequest) Filter() *Filter {
	if r == nil {
		return nil
	}
	f := &Filter{Test: r.Test}
	if r.TimeRange != nil {
		f.TimeRange = &TimeRange{Start: r.TimeRange.Start, End: r.TimeRange.End}
	}
	for _, p := range r.PropFilters {
		pf := PropFilter{Name: p.Name, IsNotDefined: p.IsNotDefined}
		if p.TextMatch != nil {
			pf.TextMatch = &TextMatch{
				MatchType: p.TextMatch.MatchType,
				Negate:    p.TextMatch.Negate,
				Value:     p.TextMatch.Value,
			}
		}
		f.PropFilters = append(f.PropFilters, pf)
	}
	return f
}

// EventQueryRequest filters events inside one collection.
type EventQueryRequest struct {
	ColPath  string         `json:"col_path" validate:"required"`
	Filter   *FilterRequest `json:"filter,omitempty"`
	Page     int            `json:"page" validate:"gte=0"`
	PageSize int            `json:"page_size" validate:"gte=0,lte=500"`
	Expand   bool           `json:"expand"`
}
