// Package indexer persists committed token and vault events into a SQL store
// so clients can query the history of a vault or an account.
package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vaulttoken/core/events"
	"vaulttoken/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

// ErrDriverRequired is returned when Open is called without a driver.
var ErrDriverRequired = errors.New("indexer: driver must be configured")

// EventRecord is the persisted form of an event envelope.
type EventRecord struct {
	Sequence     uint64  `gorm:"primaryKey;autoIncrement:false"`
	ReceiptID    string  `gorm:"index"`
	Type         string  `gorm:"index;not null"`
	VaultID      *uint64 `gorm:"index"`
	Account      string  `gorm:"index"`
	Counterparty string  `gorm:"index"`
	Attributes   string  `gorm:"type:text"`
	CreatedAt    time.Time
}

// TableName pins the table name independently of the struct name.
func (EventRecord) TableName() string { return "vault_events" }

// Entry is an indexed event as returned to API clients.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	ReceiptID  string            `json:"receiptId,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	IndexedAt  time.Time         `json:"indexedAt"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type    string
	VaultID *types.VaultID
	Account types.AccountID
	After   uint64
	Limit   int
}

// Store writes and queries event records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "":
		return nil, ErrDriverRequired
	case DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("indexer: sqlite requires a dsn")
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("indexer: database handle must not be nil")
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default(), now: time.Now}, nil
}

// SetLogger overrides the logger used to report indexing failures.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Only envelopes carry a sequence and are
// indexed; failures are logged because the event is already committed.
func (s *Store) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	if err := s.Record(context.Background(), env); err != nil {
		s.logger.Error("index event",
			slog.Uint64("sequence", env.Sequence),
			slog.String("type", env.EventType()),
			slog.Any("error", err))
	}
}

// Record stores env. Re-recording a sequence is a no-op.
func (s *Store) Record(ctx context.Context, env events.Envelope) error {
	record, err := s.toRecord(env)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}

// List returns entries matching filter in sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := s.db.WithContext(ctx).Model(&EventRecord{}).
		Where("sequence > ?", filter.After).
		Order("sequence ASC").
		Limit(limit)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if filter.VaultID != nil {
		query = query.Where("vault_id = ?", uint64(*filter.VaultID))
	}
	if filter.Account != "" {
		account := filter.Account.String()
		query = query.Where("(account = ? OR counterparty = ?)", account, account)
	}

	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := record.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// LastSequence returns the highest indexed sequence, or zero.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	row := s.db.WithContext(ctx).Model(&EventRecord{}).Select("MAX(sequence)").Row()
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("indexer: last sequence: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

func (s *Store) toRecord(env events.Envelope) (*EventRecord, error) {
	if env.Payload == nil {
		return nil, errors.New("indexer: envelope has no payload")
	}
	rendered := env.Event()
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	record := &EventRecord{
		Sequence:     env.Sequence,
		ReceiptID:    env.ReceiptID,
		Type:         rendered.Type,
		Account:      firstAttr(rendered.Attributes, "sender", "from", "account", "owner"),
		Counterparty: firstAttr(rendered.Attributes, "receiver", "to", "claimant", "payer"),
		Attributes:   string(attrs),
		CreatedAt:    s.now().UTC(),
	}
	if raw, ok := rendered.Attributes["vaultId"]; ok {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer: vault id %q: %w", raw, err)
		}
		record.VaultID = &id
	}
	return record, nil
}

func (r EventRecord) entry() (Entry, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return Entry{}, fmt.Errorf("indexer: decode attributes of %d: %w", r.Sequence, err)
		}
	}
	return Entry{
		Sequence:   r.Sequence,
		ReceiptID:  r.ReceiptID,
		Type:       r.Type,
		Attributes: attrs,
		IndexedAt:  r.CreatedAt,
	}, nil
}

func firstAttr(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(attrs[key]); value != "" {
			return value
		}
	}
	return ""
}
