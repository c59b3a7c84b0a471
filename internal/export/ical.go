package export

import (
	"bytes"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/noah-isme/calcore/internal/models"
)

const prodID = "-//calcore//calendar core//EN"

// Calendar renders a master event and its override views as a VCALENDAR: one
// VEVENT carrying the recurrence shape plus one RECURRENCE-ID-tagged VEVENT
// per persisted override. Synthetic expansion views are not exported; clients
// expand the rules themselves.
func Calendar(event *models.MasterEvent, overrideViews []models.EventView) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	master := ical.NewEvent()
	master.Props.SetText(ical.PropUID, event.UID)
	master.Props.SetDateTime(ical.PropDateTimeStamp, event.LastMod)
	master.Props.SetDateTime(ical.PropDateTimeStart, event.Start)
	master.Props.SetDateTime(ical.PropDateTimeEnd, event.End)
	if event.Summary != "" {
		master.Props.SetText(ical.PropSummary, event.Summary)
	}
	if event.Description != "" {
		master.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != nil {
		master.Props.SetText(ical.PropLocation, *event.Location)
	}
	for _, rule := range event.RRules {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = strings.TrimPrefix(rule, "RRULE:")
		master.Props.Add(prop)
	}
	if len(event.RDates) > 0 {
		prop := ical.NewProp(ical.PropRecurrenceDates)
		prop.Value = joinDates(event.RDates)
		master.Props.Add(prop)
	}
	if len(event.ExDates) > 0 {
		prop := ical.NewProp(ical.PropExceptionDates)
		prop.Value = joinDates(event.ExDates)
		master.Props.Add(prop)
	}
	cal.Children = append(cal.Children, master.Component)

	for _, view := range overrideViews {
		o, ok := view.Override.Get()
		if !ok || !o.IsOverride {
			continue
		}
		child := ical.NewEvent()
		child.Props.SetText(ical.PropUID, event.UID)
		child.Props.SetText("RECURRENCE-ID", o.RecurrenceID)
		child.Props.SetDateTime(ical.PropDateTimeStamp, o.LastMod)
		child.Props.SetDateTime(ical.PropDateTimeStart, view.Start)
		child.Props.SetDateTime(ical.PropDateTimeEnd, view.End)
		if s := view.Summary(); s != "" {
			child.Props.SetText(ical.PropSummary, s)
		}
		if d := view.Description(); d != "" {
			child.Props.SetText(ical.PropDescription, d)
		}
		if loc := view.Location(); loc != nil {
			child.Props.SetText(ical.PropLocation, *loc)
		}
		cal.Children = append(cal.Children, child.Component)
	}
	return cal
}

// Encode serializes a calendar to its wire text.
func Encode(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func joinDates(dates models.TimeArray) string {
	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, d.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ",")
}
