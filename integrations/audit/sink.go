package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"revledger/core/events"
)

// Record is one persisted ledger event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Source     string    `gorm:"size:128;index"`
	Holder     string    `gorm:"size:160;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Open connects to the audit database. Supported drivers are sqlite and postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return db, nil
}

// AutoMigrate creates or updates the audit schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Sink persists every flattenable event it receives. Writes are synchronous
// and ordered; failures are logged because emitters cannot return errors.
type Sink struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewSink migrates the schema and resumes numbering after the last record.
func NewSink(db *gorm.DB, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Record{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: resume sequence: %w", err)
	}
	return &Sink{db: db, logger: logger, now: time.Now, seq: last}, nil
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	flat, ok := events.Flatten(evt)
	if !ok {
		return
	}
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		s.logger.Error("audit: encode event", "type", flat.Type, "error", err)
		return
	}
	holder := flat.Attributes["holder"]
	if holder == "" {
		holder = flat.Attributes["recipient"]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := Record{
		ID:         uuid.New(),
		Sequence:   s.seq + 1,
		Type:       flat.Type,
		Source:     flat.Attributes["source"],
		Holder:     holder,
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		s.logger.Error("audit: persist event", "type", flat.Type, "source", record.Source, "error", err)
		return
	}
	s.seq = record.Sequence
}

// Records returns the events of source in emission order. An empty source
// returns every record.
func (s *Sink) Records(ctx context.Context, source string) ([]Record, error) {
	query := s.db.WithContext(ctx).Order("sequence asc")
	if source != "" {
		query = query.Where("source = ?", source)
	}
	var out []Record
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Decode returns the attribute map stored with the record.
func (r Record) Decode() (map[string]string, error) {
	attrs := make(map[string]string)
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Totals aggregates the audit trail of one source. Claimed is keyed by holder
// ID, or by recipient for fixed-cut claims.
type Totals struct {
	Received *uint256.Int
	Claimed  map[string]*uint256.Int
	Fixed    map[string]*uint256.Int
}

// Reconstruct replays the persisted events of source into running totals so
// the ledger can be checked without access to the engine.
func (s *Sink) Reconstruct(ctx context.Context, source string) (*Totals, error) {
	records, err := s.Records(ctx, source)
	if err != nil {
		return nil, err
	}
	totals := &Totals{
		Received: new(uint256.Int),
		Claimed:  make(map[string]*uint256.Int),
		Fixed:    make(map[string]*uint256.Int),
	}
	for _, record := range records {
		attrs, err := record.Decode()
		if err != nil {
			return nil, fmt.Errorf("audit: record %d: %w", record.Sequence, err)
		}
		amount, err := uint256.FromDecimal(attrs["amount"])
		if err != nil {
			continue
		}
		switch record.Type {
		case events.TypeInflowReceived:
			totals.Received.Add(totals.Received, amount)
		case events.TypeInflowFallback, events.TypeFixedCredited:
			totals.Received.Add(totals.Received, amount)
			addTo(totals.Fixed, attrs["recipient"], amount)
		case events.TypeClaimExecuted:
			addTo(totals.Claimed, record.Holder, amount)
		}
	}
	return totals, nil
}

func addTo(m map[string]*uint256.Int, key string, amount *uint256.Int) {
	current, ok := m[key]
	if !ok {
		current = new(uint256.Int)
		m[key] = current
	}
	current.Add(current, amount)
}
