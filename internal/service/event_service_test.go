package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calcore/internal/access"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/txn"
	"github.com/noah-isme/calcore/pkg/config"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

const (
	testPrincipal = "/principals/alice"
	testColPath   = "/user/alice/calendar"
)

var (
	collectionCols = []string{"id", "path", "parent_path", "name", "col_type", "owner", "creator", "alias_target",
		"unique_uid", "disabled", "tombstoned", "shared", "public", "sequence", "lastmod"}
	eventCols = []string{"id", "col_path", "uid", "name", "summary", "description", "location", "dtstart", "dtend",
		"floating", "date_only", "recurring", "rrules", "exrules", "rdates", "exdates", "attendees", "owner",
		"tombstoned", "sequence", "lastmod"}
	instanceCols = []string{"id", "master_id", "recurrence_id", "dtstart", "dtend", "override_id"}
)

func testConfig() config.RecurrenceConfig {
	return config.RecurrenceConfig{MaxYears: 5, MaxInstances: 100}
}

func newEventEnv(t *testing.T, checker access.Checker) (*EventService, *txn.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sess := txn.NewSession(sqlx.NewDb(db, "sqlmock"), testPrincipal, nil, nil, nil, nil)
	cols := NewCollectionService(checker, config.PathsConfig{
		InboxName: "inbox", OutboxName: "outbox", NotificationsName: "notifications", DefaultCalendarName: "calendar",
	}, nil)
	return NewEventService(cols, testConfig(), nil), sess, mock
}

func calendarRow(mock sqlmock.Sqlmock, uniqueUID bool) *sqlmock.Rows {
	return mock.NewRows(collectionCols).AddRow(
		"col-1", testColPath, "/user/alice", "calendar", "calendar", testPrincipal, testPrincipal, nil,
		uniqueUID, false, false, false, false, 0, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func expectCollectionFetch(mock sqlmock.Sqlmock, uniqueUID bool) {
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs(testColPath).
		WillReturnRows(calendarRow(mock, uniqueUID))
}

func expectNoDuplicates(mock sqlmock.Sqlmock, uniqueUID bool) {
	if uniqueUID {
		mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND uid = (.+) AND NOT tombstoned`).
			WillReturnError(sql.ErrNoRows)
	}
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND name = (.+) AND NOT tombstoned`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`DELETE FROM calendar_events WHERE col_path = (.+) AND uid = (.+) AND tombstoned`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectTouchParent(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`UPDATE calendar_collections SET lastmod = (.+), sequence = sequence \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func dailyEvent() *models.MasterEvent {
	return &models.MasterEvent{
		ColPath:   testColPath,
		UID:       "uid-daily",
		Name:      "standup.ics",
		Summary:   "Standup",
		Start:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		Recurring: true,
		RRules:    models.StringArray{"RRULE:FREQ=DAILY;COUNT=5"},
		Owner:     testPrincipal,
	}
}

func TestAddDailyCountFive(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	expectNoDuplicates(mock, true)
	mock.ExpectExec(`INSERT INTO calendar_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	}
	expectTouchParent(mock)

	result, err := svc.Add(context.Background(), sess, dailyEvent(), nil, false)
	require.NoError(t, err)
	assert.True(t, result.AddedUpdated)
	assert.Empty(t, result.FailedOverrides)
	assert.Equal(t, []string{
		"20240101T090000Z", "20240102T090000Z", "20240103T090000Z", "20240104T090000Z", "20240105T090000Z",
	}, result.Instances.Added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAttachesMatchingOverride(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	expectNoDuplicates(mock, true)
	mock.ExpectExec(`INSERT INTO calendar_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	// Day three carries the caller override: the override row lands first,
	// then its instance with the pointer set. The id scanned back from the
	// upsert is the one the instance must reference, not a freshly generated
	// one.
	mock.ExpectQuery(`INSERT INTO event_overrides (.+) RETURNING id`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("ov-db"))
	mock.ExpectExec(`INSERT INTO recurrence_instances`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "20240103T090000Z", sqlmock.AnyArg(), sqlmock.AnyArg(), "ov-db").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectTouchParent(mock)

	moved := "Standup (moved)"
	overrides := []models.Override{{RecurrenceID: "20240103T090000Z", IsOverride: true, Summary: &moved}}
	result, err := svc.Add(context.Background(), sess, dailyEvent(), overrides, false)
	require.NoError(t, err)
	assert.True(t, result.AddedUpdated)
	assert.Empty(t, result.FailedOverrides)
	assert.Len(t, result.Instances.Added, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUnmatchedOverrideSoftFailure(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	expectNoDuplicates(mock, true)
	mock.ExpectExec(`INSERT INTO calendar_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	}
	expectTouchParent(mock)

	overrides := []models.Override{{RecurrenceID: "20240110T090000Z", IsOverride: true}}
	result, err := svc.Add(context.Background(), sess, dailyEvent(), overrides, false)
	require.NoError(t, err)
	assert.True(t, result.AddedUpdated)
	require.Len(t, result.FailedOverrides, 1)
	assert.Equal(t, "20240110T090000Z", result.FailedOverrides[0].RecurrenceID)
	assert.Len(t, result.Instances.Added, 5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddUnmatchedOverrideHardFailure(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	expectNoDuplicates(mock, true)
	mock.ExpectExec(`INSERT INTO calendar_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	}

	overrides := []models.Override{{RecurrenceID: "20240110T090000Z", IsOverride: true}}
	_, err := svc.Add(context.Background(), sess, dailyEvent(), overrides, true)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidOverride.Code))
}

func TestAddDuplicateUID(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	existing := mock.NewRows(eventCols).AddRow(
		"ev-9", testColPath, "uid-daily", "other.ics", "Other", "", nil,
		time.Now(), time.Now().Add(time.Hour), false, false, false, nil, nil, nil, nil, nil,
		testPrincipal, false, 0, time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND uid = (.+) AND NOT tombstoned`).
		WillReturnRows(existing)

	_, err := svc.Add(context.Background(), sess, dailyEvent(), nil, false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDuplicateGUID.Code))
}

func TestAddOverridesOnNonRecurringRejected(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)

	event := dailyEvent()
	event.Recurring = false
	event.RRules = nil
	_, err := svc.Add(context.Background(), sess, event, []models.Override{{RecurrenceID: "x", IsOverride: true}}, false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotRecurring.Code))
}

func TestAddDeniedAccessLooksLikeNotFound(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.NewStaticChecker())
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WillReturnRows(mock.NewRows(collectionCols).AddRow(
			"col-2", testColPath, "/user/alice", "calendar", "calendar", "/principals/bob", "/principals/bob", nil,
			true, false, false, false, false, 0, time.Now()))

	_, err := svc.Add(context.Background(), sess, dailyEvent(), nil, false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code),
		"denied access must be indistinguishable from not-found")
}

func TestDeleteSingleInstanceAddsExdate(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND name = (.+) AND NOT tombstoned`).
		WillReturnRows(mock.NewRows(eventCols).AddRow(
			"ev-1", testColPath, "uid-daily", "standup.ics", "Standup", "", nil,
			start, start.Add(30*time.Minute), false, false, true,
			`{"RRULE:FREQ=DAILY;COUNT=5"}`, "{}", nil, nil, nil,
			testPrincipal, false, 3, time.Now()))

	rid := "20240103T090000Z"
	mock.ExpectQuery(`SELECT (.+) FROM recurrence_instances WHERE master_id = (.+) AND recurrence_id = (.+)`).
		WillReturnRows(mock.NewRows(instanceCols).AddRow(
			"in-3", "ev-1", rid, start.AddDate(0, 0, 2), start.AddDate(0, 0, 2).Add(30*time.Minute), nil))
	mock.ExpectExec(`DELETE FROM recurrence_instances WHERE master_id = (.+) AND recurrence_id = (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM event_overrides WHERE master_id = (.+) AND recurrence_id = (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE calendar_events SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectTouchParent(mock)

	ok, err := svc.Delete(context.Background(), sess, testColPath, "standup.ics", rid, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMasterTombstonesSeries(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND name = (.+) AND NOT tombstoned`).
		WillReturnRows(mock.NewRows(eventCols).AddRow(
			"ev-1", testColPath, "uid-daily", "standup.ics", "Standup", "", nil,
			start, start.Add(30*time.Minute), false, false, true,
			`{"RRULE:FREQ=DAILY;COUNT=2"}`, "{}", nil, nil, nil,
			testPrincipal, false, 0, time.Now()))
	mock.ExpectQuery(`SELECT (.+) FROM recurrence_instances WHERE master_id = (.+) ORDER BY recurrence_id`).
		WillReturnRows(mock.NewRows(instanceCols).
			AddRow("in-1", "ev-1", "20240101T090000Z", start, start.Add(30*time.Minute), nil).
			AddRow("in-2", "ev-1", "20240102T090000Z", start.AddDate(0, 0, 1), start.AddDate(0, 0, 1).Add(30*time.Minute), nil))
	mock.ExpectExec(`DELETE FROM recurrence_instances WHERE master_id = (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM event_overrides WHERE master_id = (.+)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE calendar_events SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectTouchParent(mock)

	ok, err := svc.Delete(context.Background(), sess, testColPath, "standup.ics", "", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTombstonedIsIdempotent(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)

	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND name = (.+) AND NOT tombstoned`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND name = (.+) AND tombstoned`).
		WillReturnRows(mock.NewRows(eventCols).AddRow(
			"ev-1", testColPath, "uid-daily", "standup.ics", "", "", nil,
			time.Now(), time.Now(), false, false, false, nil, nil, nil, nil, nil,
			testPrincipal, true, 1, time.Now()))

	ok, err := svc.Delete(context.Background(), sess, testColPath, "standup.ics", "", false)
	require.NoError(t, err)
	assert.True(t, ok, "re-deleting a tombstone reports success without side effects")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddFailsWhenParentTouchFails(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)
	expectNoDuplicates(mock, true)
	mock.ExpectExec(`INSERT INTO calendar_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO recurrence_instances`).WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec(`UPDATE calendar_collections SET lastmod = (.+), sequence = sequence \+ 1`).
		WillReturnError(sql.ErrConnDone)

	// The parent's sequence bump is part of the write; its failure aborts the
	// add instead of being swallowed.
	_, err := svc.Add(context.Background(), sess, dailyEvent(), nil, false)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryOverridesOnlyListsBareRecurringMaster(t *testing.T) {
	svc, sess, mock := newEventEnv(t, access.AllowAll{})
	expectCollectionFetch(mock, true)

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_events WHERE col_path = (.+) AND NOT tombstoned ORDER BY dtstart ASC, name ASC`).
		WillReturnRows(mock.NewRows(eventCols).AddRow(
			"ev-1", testColPath, "uid-daily", "standup.ics", "Standup", "", nil,
			start, start.Add(30*time.Minute), false, false, true,
			`{"RRULE:FREQ=DAILY;COUNT=5"}`, "{}", nil, nil, nil,
			testPrincipal, false, 0, time.Now()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM calendar_events WHERE col_path = (.+) AND NOT tombstoned`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM event_overrides WHERE master_id = (.+) ORDER BY recurrence_id ASC`).
		WithArgs("ev-1").
		WillReturnRows(mock.NewRows([]string{"id", "master_id", "uid", "name", "recurrence_id", "is_override",
			"summary", "description", "location", "dtstart", "dtend", "lastmod"}))

	// A recurring master without overrides must not vanish from the listing
	// just because overrides-only mode produced no views.
	views, page, err := svc.Query(context.Background(), sess,
		models.EventFilter{ColPath: testColPath, Page: 1, PageSize: 50}, models.RetrieveOverridesOnly)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Standup", views[0].Master.Summary)
	assert.Equal(t, start, views[0].Start)
	assert.Equal(t, 1, page.TotalCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
