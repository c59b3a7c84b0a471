package txn

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/cache"
	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/notify"
)

// Factory builds sessions over shared infrastructure. Handlers create one
// session per request and close it when the request ends.
type Factory struct {
	db      *sqlx.DB
	stats   *cache.Stats
	bus     notify.Bus
	indexer index.Indexer
	logger  *zap.Logger
}

// NewFactory wires the shared collaborators every session needs.
func NewFactory(db *sqlx.DB, stats *cache.Stats, bus notify.Bus, indexer index.Indexer, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{db: db, stats: stats, bus: bus, indexer: indexer, logger: logger}
}

// Session opens a fresh session acting as the given principal.
func (f *Factory) Session(principal string) *Session {
	return NewSession(f.db, principal, f.stats, f.bus, f.indexer, f.logger)
}
