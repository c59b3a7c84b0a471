package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calcore/internal/models"
)

func strPtr(s string) *string { return &s }

func TestResolveOverridesOnly(t *testing.T) {
	m := dailyMaster("FREQ=DAILY;COUNT=5")
	o := models.Override{
		ID:           "ov-1",
		MasterID:     m.ID,
		UID:          m.UID,
		Name:         m.Name,
		RecurrenceID: "20240103T090000Z",
		IsOverride:   true,
		Summary:      strPtr("moved standup"),
	}

	r := NewResolver(NewExpander())
	overrideViews, instanceViews, err := r.Resolve(m, []models.Override{o}, models.RetrieveOverridesOnly, 5, 100)
	require.NoError(t, err)
	assert.Empty(t, instanceViews)
	require.Len(t, overrideViews, 1)

	v := overrideViews[0]
	assert.True(t, v.IsOverride())
	assert.Equal(t, "20240103T090000Z", v.RecurrenceID)
	assert.Equal(t, "moved standup", v.Summary())
	assert.True(t, v.Start.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)))
	assert.True(t, v.End.Equal(time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)))
}

func TestResolveExpandedOverridePrecedence(t *testing.T) {
	m := dailyMaster("FREQ=DAILY;COUNT=5")
	moved := time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)
	o := models.Override{
		ID:           "ov-1",
		MasterID:     m.ID,
		UID:          m.UID,
		Name:         m.Name,
		RecurrenceID: "20240103T090000Z",
		IsOverride:   true,
		Start:        &moved,
	}

	r := NewResolver(NewExpander())
	overrideViews, instanceViews, err := r.Resolve(m, []models.Override{o}, models.RetrieveExpanded, 5, 100)
	require.NoError(t, err)
	require.Len(t, overrideViews, 1)
	require.Len(t, instanceViews, 4)

	// The overridden occurrence must never also appear as a synthetic view.
	for _, v := range instanceViews {
		assert.NotEqual(t, "20240103T090000Z", v.RecurrenceID)
		assert.True(t, v.Synthetic)
		assert.False(t, v.IsOverride())
	}
	assert.True(t, overrideViews[0].Start.Equal(moved))
}

func TestResolveAnnotationDoesNotCoverInstances(t *testing.T) {
	m := dailyMaster("FREQ=DAILY;COUNT=3")
	annotation := models.Override{
		ID:         "an-1",
		MasterID:   m.ID,
		UID:        m.UID,
		Name:       m.Name,
		IsOverride: false,
		Summary:    strPtr("personal copy"),
	}

	r := NewResolver(NewExpander())
	overrideViews, instanceViews, err := r.Resolve(m, []models.Override{annotation}, models.RetrieveExpanded, 5, 100)
	require.NoError(t, err)
	assert.Len(t, overrideViews, 1)
	// A whole-event annotation suppresses no generated occurrence.
	assert.Len(t, instanceViews, 3)
}

func TestResolveNonRecurringSkipsExpansion(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &models.MasterEvent{
		ID:    "ev-2",
		UID:   "uid-2",
		Name:  "single.ics",
		Start: start,
		End:   start.Add(time.Hour),
	}

	r := NewResolver(NewExpander())
	overrideViews, instanceViews, err := r.Resolve(m, nil, models.RetrieveExpanded, 5, 100)
	require.NoError(t, err)
	assert.Empty(t, overrideViews)
	assert.Empty(t, instanceViews)
}

func TestResolveIdempotent(t *testing.T) {
	m := dailyMaster("FREQ=DAILY;COUNT=6")
	r := NewResolver(NewExpander())

	ov1, inst1, err := r.Resolve(m, nil, models.RetrieveExpanded, 5, 100)
	require.NoError(t, err)
	ov2, inst2, err := r.Resolve(m, nil, models.RetrieveExpanded, 5, 100)
	require.NoError(t, err)

	assert.Equal(t, ov1, ov2)
	assert.Equal(t, inst1, inst2)
}
