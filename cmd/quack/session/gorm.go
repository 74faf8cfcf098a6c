package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// sessionRecord is the persisted form of a Session
type sessionRecord struct {
	Token     string `gorm:"primary_key"`
	Login     string `gorm:"not null"`
	Name      string
	IsAdmin   bool
	Projects  pq.StringArray `gorm:"type:text[]"`
	ExpiresAt time.Time      `gorm:"index"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}

// GormStore reads sessions written by the authentication service
type GormStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewGormStore opens the session database
func NewGormStore(connStr string, log zerolog.Logger) (*GormStore, error) {
	db, err := gorm.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	return &GormStore{
		db:  db,
		log: log.With().Str("component", "session_store").Logger(),
	}, nil
}

// Migrate creates the sessions table when it does not exist yet
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&sessionRecord{}).Error; err != nil {
		return fmt.Errorf("failed to migrate sessions: %w", err)
	}
	return nil
}

// Lookup returns the live session for a token
func (s *GormStore) Lookup(ctx context.Context, token string) (*Session, error) {
	var rec sessionRecord
	err := s.db.Where("token = ? AND expires_at > ?", token, time.Now()).First(&rec).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read session")
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	return rec.toSession(), nil
}

// Close releases the database connection
func (s *GormStore) Close() error {
	return s.db.Close()
}

func (rec sessionRecord) toSession() *Session {
	return &Session{
		Token:     rec.Token,
		Login:     rec.Login,
		Name:      rec.Name,
		IsAdmin:   rec.IsAdmin,
		Projects:  []string(rec.Projects),
		ExpiresAt: rec.ExpiresAt,
	}
}
