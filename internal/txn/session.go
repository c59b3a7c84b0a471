package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/cache"
	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/notify"
	"github.com/noah-isme/calcore/internal/repository"
)

// ErrSessionBroken marks a session hit by a fatal error; it must be discarded,
// not reused.
var ErrSessionBroken = errors.New("session is broken and must be discarded")

type indexOp struct {
	entry         *index.Entry
	unindexHref   string
	unindexPrefix string
}

// Session is the per-interaction transaction coordinator: it owns the live
// transaction, the collection cache scoped to this interaction, and the
// side effects buffered for the commit boundary. Operations inside one
// session run sequentially; concurrency across sessions is the store's
// problem.
type Session struct {
	Principal string
	// Tier selects the recurrence-expansion limits for this caller.
	Tier string

	db      *sqlx.DB
	tx      *sqlx.Tx
	cache   *cache.CollectionCache
	bus     notify.Bus
	indexer index.Indexer
	logger  *zap.Logger

	rolledBack bool
	broken     bool

	pendingNotifications []models.Notification
	pendingIndex         []indexOp
}

// NewSession opens a logical session for one principal.
func NewSession(db *sqlx.DB, principal string, stats *cache.Stats, bus notify.Bus, indexer index.Indexer, logger *zap.Logger) *Session {
	if bus == nil {
		bus = notify.NopBus{}
	}
	if indexer == nil {
		indexer = index.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		Principal: principal,
		db:        db,
		bus:       bus,
		indexer:   indexer,
		logger:    logger,
	}
	s.cache = cache.New(s, stats)
	return s
}

// CurrentToken implements cache.TokenSource through the session's own handle,
// so validation observes this transaction's writes.
func (s *Session) CurrentToken(ctx context.Context, path string) (string, error) {
	return repository.NewCollectionRepository(s.Q()).CurrentToken(ctx, path)
}

// Q returns the handle repositories should run against: the open transaction
// when one exists, the bare DB otherwise.
func (s *Session) Q() repository.Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Cache exposes the session-scoped collection cache.
func (s *Session) Cache() *cache.CollectionCache { return s.cache }

// Indexer exposes the configured indexer for read-through paths.
func (s *Session) Indexer() index.Indexer { return s.indexer }

// Begin starts a transaction. The cache is flushed so entries revalidate
// against state as of this transaction.
func (s *Session) Begin(ctx context.Context) error {
	if s.broken {
		return ErrSessionBroken
	}
	if s.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.broken = true
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	s.rolledBack = false
	s.cache.Flush()
	return nil
}

// Commit commits the transaction, flushes the cache, and only then informs
// the indexer and notification bus of the buffered side effects.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("no open transaction")
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		s.broken = true
		s.cache.Clear()
		s.dropPending()
		return fmt.Errorf("commit: %w", err)
	}
	s.cache.Flush()
	s.drainPending(ctx)
	return nil
}

// Rollback aborts the transaction and discards buffered side effects.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	s.rolledBack = true
	s.cache.Clear()
	s.dropPending()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.broken = true
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// IsRolledBack reports whether the last transaction ended in rollback.
func (s *Session) IsRolledBack() bool { return s.rolledBack }

// Close ends the session. An open transaction at close is a programming
// error; it is rolled back and the cache cleared defensively.
func (s *Session) Close() {
	if s.tx != nil {
		s.logger.Warn("session closed with open transaction", zap.String("principal", s.Principal))
		_ = s.Rollback()
	}
	s.cache.Clear()
}

// QueueNotification buffers a notification for the commit boundary.
func (s *Session) QueueNotification(n models.Notification) {
	if n.Actor == "" {
		n.Actor = s.Principal
	}
	s.pendingNotifications = append(s.pendingNotifications, n)
}

// QueueIndex buffers an index write for the commit boundary.
func (s *Session) QueueIndex(entry index.Entry) {
	s.pendingIndex = append(s.pendingIndex, indexOp{entry: &entry})
}

// QueueUnindex buffers an index removal for the commit boundary.
func (s *Session) QueueUnindex(href string) {
	s.pendingIndex = append(s.pendingIndex, indexOp{unindexHref: href})
}

// QueueUnindexContained buffers a subtree index removal.
func (s *Session) QueueUnindexContained(pathPrefix string) {
	s.pendingIndex = append(s.pendingIndex, indexOp{unindexPrefix: pathPrefix})
}

func (s *Session) drainPending(ctx context.Context) {
	for _, op := range s.pendingIndex {
		var err error
		switch {
		case op.entry != nil:
			err = s.indexer.IndexEntity(ctx, *op.entry)
		case op.unindexPrefix != "":
			err = s.indexer.UnindexContained(ctx, op.unindexPrefix)
		case op.unindexHref != "":
			err = s.indexer.UnindexEntity(ctx, op.unindexHref)
		}
		if err != nil {
			s.logger.Warn("index update failed", zap.Error(err))
		}
	}
	for _, n := range s.pendingNotifications {
		s.bus.PostNotification(n)
	}
	s.dropPending()
}

func (s *Session) dropPending() {
	s.pendingIndex = nil
	s.pendingNotifications = nil
}
