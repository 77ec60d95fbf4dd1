package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"callguard/internal/crypto"
	"callguard/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	sessionColumns      = `id, started_at, ended_at, total_scams_detected, is_active`
	conversationColumns = `id, session_id, speaker, transcription, timestamp, is_scam, confidence, scam_patterns`
	detectionColumns    = `id, conversation_id, detected_at, scam_type, patterns, confidence, analysis`
)

// SQLStore persists records in sqlite or postgres through sqlx.
// Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db     *sqlx.DB
	sealer *crypto.Sealer
	clock  *clock
	logger *zap.Logger

	// serializes CreateSession; the partial unique index is the backstop
	sessionMu sync.Mutex
}

// NewSQLStore wraps an opened and migrated database. sealer may be nil.
func NewSQLStore(db *sqlx.DB, sealer *crypto.Sealer, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		sealer: sealer,
		clock:  newClock(),
		logger: logger,
	}
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

// withTx runs fn in a transaction, rolling back on error
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) CreateSession(ctx context.Context) (*models.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := s.clock.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		StartedAt: now,
		IsActive:  true,
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE sessions SET is_active = ?, ended_at = ? WHERE is_active = ?`),
			false, now, true); err != nil {
			return fmt.Errorf("failed to end previous sessions: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?)`),
			session.ID, session.StartedAt, nil, 0, true); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (s *SQLStore) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE sessions SET is_active = ?, ended_at = ? WHERE id = ? AND is_active = ?`),
		false, s.clock.Now(), sessionID, true)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetActiveSession(ctx context.Context) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session,
		s.q(`SELECT `+sessionColumns+` FROM sessions WHERE is_active = ? ORDER BY started_at DESC LIMIT 1`), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return &session, nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session,
		s.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SQLStore) GetSessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	var total, scams int
	err := s.db.QueryRowxContext(ctx, s.q(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_scam THEN 1 ELSE 0 END), 0)
		FROM conversations
		WHERE session_id = ?`), sessionID).Scan(&total, &scams)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	return models.NewSessionStats(total, scams), nil
}

func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	var row *models.Conversation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		row, err = s.insertConversation(ctx, tx, conv)
		return err
	})
	if err != nil {
		return err
	}

	conv.ID, conv.Timestamp, conv.Confidence = row.ID, row.Timestamp, row.Confidence
	return nil
}

// insertConversation writes conv inside tx and returns the stored values
// without touching conv, so a rolled back transaction leaves it unchanged
func (s *SQLStore) insertConversation(ctx context.Context, tx *sqlx.Tx, conv *models.Conversation) (*models.Conversation, error) {
	sealed, err := s.sealer.Seal(conv.Transcription)
	if err != nil {
		return nil, fmt.Errorf("failed to seal transcription: %w", err)
	}

	var exists int
	err = tx.GetContext(ctx, &exists, s.q(`SELECT 1 FROM sessions WHERE id = ?`), conv.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	row := *conv
	row.ID = uuid.New().String()
	row.Timestamp = s.clock.Now()
	row.Confidence = models.ClampConfidence(conv.Confidence)

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.SessionID, row.Speaker, sealed, row.Timestamp, row.IsScam, row.Confidence, row.ScamPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &row, nil
}

func (s *SQLStore) GetConversationsBySession(ctx context.Context, sessionID string) ([]*models.Conversation, error) {
	conversations := make([]*models.Conversation, 0)
	err := s.db.SelectContext(ctx, &conversations,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE session_id = ? ORDER BY timestamp ASC`),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	for _, conv := range conversations {
		plain, err := s.sealer.Open(conv.Transcription)
		if err != nil {
			s.logger.Error("Failed to open sealed transcription",
				zap.String("conversation_id", conv.ID), zap.Error(err))
			return nil, fmt.Errorf("failed to open transcription: %w", err)
		}
		conv.Transcription = plain
	}
	return conversations, nil
}

func (s *SQLStore) CreateDetection(ctx context.Context, det *models.Detection) error {
	var row *models.Detection
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		row, err = s.insertDetection(ctx, tx, det)
		return err
	})
	if err != nil {
		return err
	}

	det.ID, det.DetectedAt, det.Confidence, det.Patterns = row.ID, row.DetectedAt, row.Confidence, row.Patterns
	return nil
}

// insertDetection writes det inside tx and bumps the owning session's counter
func (s *SQLStore) insertDetection(ctx context.Context, tx *sqlx.Tx, det *models.Detection) (*models.Detection, error) {
	var sessionID string
	if det.ConversationID != nil {
		err := tx.GetContext(ctx, &sessionID,
			s.q(`SELECT session_id FROM conversations WHERE id = ?`), *det.ConversationID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up conversation: %w", err)
		}
	}

	row := *det
	row.ID = uuid.New().String()
	row.DetectedAt = s.clock.Now()
	row.Confidence = models.ClampConfidence(det.Confidence)
	if row.Patterns == nil {
		row.Patterns = models.Patterns{}
	}

	_, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO scam_detections (`+detectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.ConversationID, row.DetectedAt, row.ScamType, row.Patterns, row.Confidence, row.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to insert detection: %w", err)
	}

	if sessionID != "" {
		_, err = tx.ExecContext(ctx,
			s.q(`UPDATE sessions SET total_scams_detected = total_scams_detected + 1 WHERE id = ?`),
			sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to update session scam count: %w", err)
		}
	}
	return &row, nil
}

func (s *SQLStore) RecordAnalysis(ctx context.Context, conv *models.Conversation, det *models.Detection) error {
	var convRow *models.Conversation
	var detRow *models.Detection
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if convRow, err = s.insertConversation(ctx, tx, conv); err != nil {
			return err
		}
		if det == nil {
			return nil
		}

		linked := *det
		linked.ConversationID = &convRow.ID
		detRow, err = s.insertDetection(ctx, tx, &linked)
		return err
	})
	if err != nil {
		return err
	}

	conv.ID, conv.Timestamp, conv.Confidence = convRow.ID, convRow.Timestamp, convRow.Confidence
	if det != nil {
		convID := convRow.ID
		det.ConversationID = &convID
		det.ID, det.DetectedAt, det.Confidence, det.Patterns = detRow.ID, detRow.DetectedAt, detRow.Confidence, detRow.Patterns
	}
	return nil
}

func (s *SQLStore) GetRecentDetections(ctx context.Context, limit int) ([]*models.Detection, error) {
	detections := make([]*models.Detection, 0)
	err := s.db.SelectContext(ctx, &detections,
		s.q(`SELECT `+detectionColumns+` FROM scam_detections ORDER BY detected_at DESC LIMIT ?`),
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	return detections, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
