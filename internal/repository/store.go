package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callguard/internal/config"
	"callguard/internal/crypto"
	"callguard/internal/models"

	"go.uber.org/zap"
)

// DefaultRecentLimit is used when GetRecentDetections gets a non-positive limit
const DefaultRecentLimit = 10

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store holds sessions, conversations and detections.
//
// CreateSession ends any other active session in the same step, so at most
// one session is active at a time. Lookups of unknown ids return nil, nil.
type Store interface {
	CreateSession(ctx context.Context) (*models.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	GetActiveSession(ctx context.Context) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetSessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversationsBySession(ctx context.Context, sessionID string) ([]*models.Conversation, error)

	CreateDetection(ctx context.Context, det *models.Detection) error
	// RecordAnalysis stores conv and, when det is non-nil, a detection linked
	// to it. Both are written or neither is.
	RecordAnalysis(ctx context.Context, conv *models.Conversation, det *models.Detection) error
	GetRecentDetections(ctx context.Context, limit int) ([]*models.Detection, error)

	Close() error
}

// NewStore builds the store selected by cfg.Type
func NewStore(cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Info("Using in-memory store; records are lost on restart")
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		sealer, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		db, err := NewDB(cfg.Type, cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := MigrateDB(db, cfg.Type, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return NewSQLStore(db, sealer, logger), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// clock hands out strictly increasing timestamps so that records created
// back to back never share a time and orderings stay strict.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Round drops the monotonic reading; databases keep microseconds at best.
	t := c.now().UTC().Round(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
