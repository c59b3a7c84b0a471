package export

import (
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calcore/internal/models"
)

func exportMaster() *models.MasterEvent {
	return &models.MasterEvent{
		UID:       "uid-weekly",
		Name:      "review.ics",
		Summary:   "Weekly review",
		Start:     time.Date(2024, 2, 5, 14, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 2, 5, 15, 0, 0, 0, time.UTC),
		Recurring: true,
		RRules:    models.StringArray{"RRULE:FREQ=WEEKLY;COUNT=4"},
		ExDates:   models.TimeArray{time.Date(2024, 2, 19, 14, 0, 0, 0, time.UTC)},
		LastMod:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalendarCarriesRecurrenceShape(t *testing.T) {
	out, err := Encode(Calendar(exportMaster(), nil))
	require.NoError(t, err)

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "UID:uid-weekly")
	assert.Contains(t, out, "SUMMARY:Weekly review")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;COUNT=4")
	assert.Contains(t, out, "EXDATE:20240219T140000Z")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestCalendarRendersOverridesWithRecurrenceID(t *testing.T) {
	master := exportMaster()
	moved := "Weekly review (moved)"
	rid := "20240212T140000Z"
	view := models.EventView{
		Master: master,
		Override: mo.Some(models.Override{
			RecurrenceID: rid,
			IsOverride:   true,
			Summary:      &moved,
			LastMod:      time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		}),
		RecurrenceID: rid,
		Start:        time.Date(2024, 2, 12, 16, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 2, 12, 17, 0, 0, 0, time.UTC),
	}

	out, err := Encode(Calendar(master, []models.EventView{view}))
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "RECURRENCE-ID:"+rid)
	assert.Contains(t, out, "SUMMARY:Weekly review (moved)")
	assert.Equal(t, 2, strings.Count(out, "UID:uid-weekly"), "override shares the master's uid")
}

func TestCalendarSkipsSyntheticViews(t *testing.T) {
	master := exportMaster()
	synthetic := models.EventView{
		Master:       master,
		Override:     mo.None[models.Override](),
		RecurrenceID: "20240226T140000Z",
		Synthetic:    true,
	}

	out, err := Encode(Calendar(master, []models.EventView{synthetic}))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}
