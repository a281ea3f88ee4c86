package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tgeledger/core/events"
	"tgeledger/core/types"
	"tgeledger/observability/logging"
)

const (
	sqliteScheme = "sqlite://"
	memoryTarget = ":memory:"
	defaultLimit = 100
	maxLimit     = 1000
)

// Open connects to the database named by dsn. "sqlite://<path>" and
// "sqlite://:memory:" select the embedded driver; postgres:// and
// postgresql:// URLs select postgres.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch {
	case strings.HasPrefix(trimmed, sqliteScheme):
		target := strings.TrimPrefix(trimmed, sqliteScheme)
		if target == "" {
			return nil, errors.New("indexer: sqlite path required")
		}
		if target == memoryTarget {
			target = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		} else if dir := filepath.Dir(target); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("indexer: create directory: %w", err)
			}
		}
		return gorm.Open(sqlite.Open(target), cfg)
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return gorm.Open(postgres.Open(trimmed), cfg)
	default:
		return nil, fmt.Errorf("indexer: unsupported dsn %q", dsn)
	}
}

// Record is a stored notification as returned by queries.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type          string
	Address       common.Address
	AfterSequence uint64
	Limit         int
}

// Indexer persists every event it is handed. It implements events.Emitter;
// write failures are logged and counted because Emit cannot return them.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sequence uint64
	failures uint64
}

// New migrates the schema and resumes numbering after the highest stored
// sequence.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if log == nil {
		log = logging.Discard()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Notification{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Indexer{db: db, logger: log, now: time.Now, sequence: last}, nil
}

// Emit implements events.Emitter.
func (i *Indexer) Emit(evt events.Event) {
	payload := events.Render(evt)
	if payload == nil {
		return
	}
	if _, err := i.Record(context.Background(), payload); err != nil {
		i.mu.Lock()
		i.failures++
		i.mu.Unlock()
		i.logger.Error("index notification", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Record stores evt and returns its sequence number.
func (i *Indexer) Record(ctx context.Context, evt *types.Event) (uint64, error) {
	if evt == nil {
		return 0, errors.New("indexer: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return 0, fmt.Errorf("indexer: encode attributes: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	seq := i.sequence + 1
	row := Notification{
		ID:         uuid.New(),
		Sequence:   seq,
		Type:       evt.Type,
		Attributes: string(attrs),
		CreatedAt:  i.now().UTC(),
	}
	for _, link := range addressLinks(evt.Attributes) {
		link.ID = uuid.New()
		link.NotificationID = row.ID
		row.Addresses = append(row.Addresses, link)
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, fmt.Errorf("indexer: insert: %w", err)
	}
	i.sequence = seq
	return seq, nil
}

// List returns notifications matching f in sequence order.
func (i *Indexer) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := i.db.WithContext(ctx).Model(&Notification{}).
		Where("sequence > ?", f.AfterSequence).
		Order("sequence ASC").
		Limit(limit)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Address != (common.Address{}) {
		sub := i.db.Model(&NotificationAddress{}).
			Select("notification_id").
			Where("address = ?", strings.ToLower(f.Address.Hex()))
		query = query.Where("id IN (?)", sub)
	}
	var rows []Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("indexer: decode notification %d: %w", row.Sequence, err)
			}
		}
		out = append(out, Record{
			Sequence:   row.Sequence,
			Type:       row.Type,
			Attributes: attrs,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

// Count returns how many notifications of eventType are stored. An empty type
// counts everything.
func (i *Indexer) Count(ctx context.Context, eventType string) (int64, error) {
	query := i.db.WithContext(ctx).Model(&Notification{})
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("indexer: count: %w", err)
	}
	return n, nil
}

// LastSequence is the highest sequence handed out so far.
func (i *Indexer) LastSequence() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sequence
}

// Failures counts events that could not be stored.
func (i *Indexer) Failures() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failures
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// addressLinks picks every hex address out of the attributes. Addresses are
// stored lower-cased.
func addressLinks(attrs map[string]string) []NotificationAddress {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var links []NotificationAddress
	for _, key := range keys {
		value := attrs[key]
		if len(value) != 2+2*common.AddressLength || !common.IsHexAddress(value) {
			continue
		}
		links = append(links, NotificationAddress{
			Address: strings.ToLower(common.HexToAddress(value).Hex()),
			Role:    key,
		})
	}
	return links
}
