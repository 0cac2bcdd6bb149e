// Package audit records session lifecycle and security events.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Event types.
const (
	EventSessionCreated     = "session.created"
	EventSessionAttached    = "session.attached"
	EventSessionReplaced    = "session.replaced"
	EventSessionDetached    = "session.detached"
	EventSessionExpired     = "session.expired"
	EventSessionExited      = "session.exited"
	EventSessionKilled      = "session.killed"
	EventCommandBlocked     = "command.blocked"
	EventConnectionRejected = "connection.rejected"
	EventSpawnFailed        = "spawn.failed"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Event is one audit record.
type Event struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	Type       string    `gorm:"index;not null" json:"type"`
	SessionID  string    `gorm:"index" json:"sessionId,omitempty"`
	RunspaceID string    `json:"runspaceId,omitempty"`
	SocketID   string    `json:"socketId,omitempty"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Store persists events in SQLite.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if path != ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	return NewStore(db, log)
}

// NewStore wraps an open database and migrates the events table.
func NewStore(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Record writes e. Failures are logged and returned.
func (s *Store) Record(ctx context.Context, e Event) error {
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		s.log.Error().Err(err).Str("event", e.Type).Str("session", e.SessionID).Msg("failed to write audit event")
		return err
	}
	s.log.Debug().
		Str("event", e.Type).
		Str("session", e.SessionID).
		Str("runspace", e.RunspaceID).
		Str("detail", e.Detail).
		Msg("audit")
	return nil
}

// ForSession returns up to limit events of a session, oldest first.
func (s *Store) ForSession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var events []Event
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Prune deletes events older than the given age and reports how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	return res.RowsAffected, res.Error
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
