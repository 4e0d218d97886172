package dnspodd

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Outcomes recorded in the journal.
const (
	OutcomeUpdated = "updated"
	OutcomeFailed  = "failed"
)

// An UpdateRecord is one row of update history: a provider write that
// was attempted, where it tried to move the record, and how it went.
type UpdateRecord struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	Domain    string `gorm:"index"`
	Sub       string
	From      string `gorm:"column:from_ip"` // empty when the previous address was unknown
	To        string `gorm:"column:to_ip"`
	Outcome   string
	Detail    string // provider diagnostics for failed attempts
}

// TableName implements the gorm naming override.
func (UpdateRecord) TableName() string { return "updates" }

// A Journal is an optional durable history of update attempts, kept in
// a SQLite file next to the daemon.
type Journal struct {
	db *gorm.DB
}

// OpenJournal opens the journal database at path, creating and
// migrating it when needed.
func OpenJournal(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if err := db.AutoMigrate(&UpdateRecord{}); err != nil {
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records one update attempt.
func (j *Journal) Append(ctx context.Context, rec UpdateRecord) error {
	return j.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns up to limit attempts, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]UpdateRecord, error) {
	var recs []UpdateRecord
	err := j.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	db, err := j.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
