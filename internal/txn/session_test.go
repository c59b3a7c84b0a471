package txn

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/models"
)

type captureBus struct {
	posted []models.Notification
}

func (b *captureBus) PostNotification(n models.Notification) {
	b.posted = append(b.posted, n)
}

type captureIndexer struct {
	index.Noop
	indexed   []index.Entry
	unindexed []string
}

func (c *captureIndexer) IndexEntity(_ context.Context, e index.Entry) error {
	c.indexed = append(c.indexed, e)
	return nil
}

func (c *captureIndexer) UnindexEntity(_ context.Context, href string) error {
	c.unindexed = append(c.unindexed, href)
	return nil
}

func newSessionMock(t *testing.T) (*Session, sqlmock.Sqlmock, *captureBus, *captureIndexer) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := &captureBus{}
	idx := &captureIndexer{}
	s := NewSession(sqlx.NewDb(db, "sqlmock"), "/principals/alice", nil, bus, idx, nil)
	return s, mock, bus, idx
}

func TestCommitDrainsBufferedSideEffects(t *testing.T) {
	s, mock, bus, idx := newSessionMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))

	s.QueueNotification(models.Notification{Type: models.NotifyEntityAdded, Path: "/user/alice/calendar/ev"})
	s.QueueIndex(index.Entry{Href: "/user/alice/calendar/ev", Kind: "event"})
	s.QueueUnindex("/user/alice/calendar/old")

	// Nothing leaves the session before commit.
	assert.Empty(t, bus.posted)
	assert.Empty(t, idx.indexed)

	require.NoError(t, s.Commit(ctx))
	require.Len(t, bus.posted, 1)
	assert.Equal(t, "/principals/alice", bus.posted[0].Actor)
	assert.Len(t, idx.indexed, 1)
	assert.Equal(t, []string{"/user/alice/calendar/old"}, idx.unindexed)
	assert.False(t, s.IsRolledBack())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDiscardsBufferedSideEffects(t *testing.T) {
	s, mock, bus, idx := newSessionMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	s.QueueNotification(models.Notification{Type: models.NotifyEntityDeleted, Path: "/x"})
	s.QueueIndex(index.Entry{Href: "/x"})

	require.NoError(t, s.Rollback())
	assert.True(t, s.IsRolledBack())
	assert.Empty(t, bus.posted)
	assert.Empty(t, idx.indexed)

	// A fresh transaction resets the flag.
	mock.ExpectBegin()
	mock.ExpectRollback()
	require.NoError(t, s.Begin(ctx))
	assert.False(t, s.IsRolledBack())
	assert.NoError(t, s.Rollback())
}

func TestBeginTwiceFails(t *testing.T) {
	s, mock, _, _ := newSessionMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	assert.Error(t, s.Begin(ctx))
	require.NoError(t, s.Rollback())
}

func TestCloseRollsBackOpenTransaction(t *testing.T) {
	s, mock, _, _ := newSessionMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, s.Begin(context.Background()))
	s.Close()
	assert.True(t, s.IsRolledBack())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBrokenSessionRefusesNewTransactions(t *testing.T) {
	s, mock, _, _ := newSessionMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(assert.AnError)

	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	require.Error(t, s.Commit(ctx))

	assert.ErrorIs(t, s.Begin(ctx), ErrSessionBroken)
}

func TestCommitWithoutTransactionFails(t *testing.T) {
	s, _, _, _ := newSessionMock(t)
	assert.Error(t, s.Commit(context.Background()))
	assert.NoError(t, s.Rollback(), "rollback without transaction is a no-op")
}
