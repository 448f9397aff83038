package poold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"omnipool/core/events"
	"omnipool/observability"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

// OpenDatabase connects to the record database selected by cfg and migrates
// the schema.
func OpenDatabase(cfg IndexerConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// RecordFilter narrows a record listing.
type RecordFilter struct {
	Type    string
	Account string
	After   uint64
	Limit   int
}

// Indexer persists committed envelopes as Records.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewIndexer wraps a migrated database handle.
func NewIndexer(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, logger: logger}, nil
}

// Emit implements events.Emitter. Storage failures are logged and counted;
// the operation has already been committed.
func (i *Indexer) Emit(evt events.Event) {
	env, ok := evt.(*Envelope)
	if !ok || env == nil || env.Event == nil {
		return
	}
	if err := i.Store(context.Background(), env); err != nil {
		observability.Events().RecordDropped("indexer")
		i.logger.Error("index record failed", "sequence", env.Sequence, "type", env.Event.Type, "error", err)
	}
}

// Store inserts one envelope. Re-storing a sequence already indexed is a
// no-op.
func (i *Indexer) Store(ctx context.Context, env *Envelope) error {
	rec, err := NewRecord(env.Sequence, env.Time, env.Event)
	if err != nil {
		return fmt.Errorf("indexer: encode: %w", err)
	}
	var count int64
	if err := i.db.WithContext(ctx).Model(&Record{}).Where("sequence = ?", env.Sequence).Count(&count).Error; err != nil {
		return fmt.Errorf("indexer: lookup: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := i.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("indexer: insert: %w", err)
	}
	observability.Events().RecordEmitted(env.Event.Type)
	return nil
}

// List returns records in sequence order.
func (i *Indexer) List(ctx context.Context, filter RecordFilter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	if limit > maxRecordLimit {
		limit = maxRecordLimit
	}
	query := i.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		if !strings.Contains(t, ".") {
			t = "pool." + t
		}
		query = query.Where("type = ?", t)
	}
	if account := strings.TrimSpace(filter.Account); account != "" {
		query = query.Where("account = ?", account)
	}
	var out []Record
	if err := query.Order("sequence ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	return out, nil
}

// LastSequence returns the highest indexed sequence or zero.
func (i *Indexer) LastSequence(ctx context.Context) (uint64, error) {
	var rec Record
	err := i.db.WithContext(ctx).Order("sequence DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return 0, fmt.Errorf("indexer: last sequence: %w", err)
	}
	return rec.Sequence, nil
}
