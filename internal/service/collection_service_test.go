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

func newCollectionEnv(t *testing.T, checker access.Checker) (*CollectionService, *txn.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sess := txn.NewSession(sqlx.NewDb(db, "sqlmock"), testPrincipal, nil, nil, nil, nil)
	svc := NewCollectionService(checker, config.PathsConfig{
		InboxName: "inbox", OutboxName: "outbox", NotificationsName: "notifications", DefaultCalendarName: "calendar",
	}, nil)
	return svc, sess, mock
}

func newCalendarCollection(name, parentPath string) *models.Collection {
	return &models.Collection{
		Name:       name,
		ParentPath: parentPath,
		Type:       models.ColCalendar,
		Owner:      testPrincipal,
	}
}

func collectionRowAt(mock sqlmock.Sqlmock, path, parent, name, colType string) *sqlmock.Rows {
	return mock.NewRows(collectionCols).AddRow(
		"col-"+name, path, parent, name, colType, testPrincipal, testPrincipal, nil,
		false, false, false, false, false, 2, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func TestRenameCascadesToDescendants(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})

	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a/b").
		WillReturnRows(collectionRowAt(mock, "/a/b", "/a", "b", "folder"))
	// New name must not collide with a live sibling or a lingering tombstone.
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a/d").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND tombstoned`).
		WithArgs("/a/d").
		WillReturnError(sql.ErrNoRows)
	// Descendants are fetched before any rewrite begins.
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path LIKE (.+) AND NOT tombstoned ORDER BY path`).
		WithArgs("/a/b/%").
		WillReturnRows(collectionRowAt(mock, "/a/b/c", "/a/b", "c", "calendar"))

	mock.ExpectExec(`UPDATE calendar_collections SET path = `).
		WithArgs("/a/d", "/a", "d", "folder", nil, false, false, false, false, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "col-b", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE calendar_events SET col_path = `).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE calendar_collections SET path = `).
		WithArgs("/a/d/c", "/a/d", "c", "calendar", nil, false, false, false, false, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "col-c", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE calendar_events SET col_path = `).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.Rename(context.Background(), sess, "/a/b", "d"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameToReservedNameRejected(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WillReturnRows(collectionRowAt(mock, "/a/b", "/a", "b", "folder"))

	err := svc.Rename(context.Background(), sess, "/a/b", "inbox")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrReservedName.Code))
}

func TestAddRejectsNonFolderParent(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WillReturnRows(collectionRowAt(mock, "/user/alice/calendar", "/user/alice", "calendar", "calendar"))

	col := newCalendarCollection("work", "/user/alice/calendar")
	err := svc.Add(context.Background(), sess, col)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrIllegalCalendar.Code))
}

func TestDeleteNonEmptyCollectionRejected(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a/b").
		WillReturnRows(collectionRowAt(mock, "/a/b", "/a", "b", "calendar"))
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a").
		WillReturnRows(collectionRowAt(mock, "/a", "/", "a", "folder"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM calendar_events WHERE col_path = (.+) AND NOT tombstoned`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM calendar_collections WHERE parent_path`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(0))

	err := svc.Delete(context.Background(), sess, "/a/b", false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCollectionNotEmpty.Code))
}

func TestDeleteClearsPreferenceRefsBeforeTombstoning(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a/b").
		WillReturnRows(collectionRowAt(mock, "/a/b", "/a", "b", "calendar"))
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WithArgs("/a").
		WillReturnRows(collectionRowAt(mock, "/a", "/", "a", "folder"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM calendar_events`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM calendar_collections WHERE parent_path`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE principal_preferences SET default_calendar_path = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE calendar_collections SET path = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE calendar_collections SET lastmod = (.+), sequence = sequence \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Delete(context.Background(), sess, "/a/b", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMalformedPath(t *testing.T) {
	svc, sess, _ := newCollectionEnv(t, access.AllowAll{})
	_, err := svc.Get(context.Background(), sess, "a//b")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMalformedPath.Code))
}

func TestGetServedFromCacheSkipsStore(t *testing.T) {
	svc, sess, mock := newCollectionEnv(t, access.AllowAll{})
	mock.ExpectQuery(`SELECT (.+) FROM calendar_collections WHERE path = (.+) AND NOT tombstoned`).
		WillReturnRows(collectionRowAt(mock, "/a/b", "/a", "b", "calendar"))

	first, err := svc.Get(context.Background(), sess, "/a/b")
	require.NoError(t, err)

	// The second read must hit the cache, not the store.
	second, err := svc.Get(context.Background(), sess, "/a/b")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
