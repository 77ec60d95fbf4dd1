package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"callguard/internal/alerts"
	"callguard/internal/metrics"
	"callguard/internal/models"
	"callguard/internal/repository"

	"go.uber.org/zap"
)

const (
	DefaultSpeaker   = "Caller"
	DefaultMinLength = 10

	classifierFailureReason = "Unable to analyze due to service error"
)

// ErrTranscriptionTooShort is returned for text below the minimum length
var ErrTranscriptionTooShort = errors.New("transcription too short")

// Classifier produces a fraud verdict for a transcription chunk
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.ScamAnalysis, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// Options tune the analysis flow
type Options struct {
	// Minimum transcription length in characters, after trimming
	MinLength int
	// Upper bound for one classifier call
	ClassifierTimeout time.Duration
}

// AnalyzeInput is one transcribed chunk posted by the client
type AnalyzeInput struct {
	Transcription string
	Speaker       string
	SessionID     string
}

// AnalyzeResult carries the stored conversation and the verdict behind it
type AnalyzeResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Analysis     *models.ScamAnalysis `json:"analysis"`
}

// Monitor runs monitoring sessions and analyzes their transcriptions
type Monitor struct {
	store      repository.Store
	classifier Classifier
	dispatcher *alerts.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       Options
}

// NewMonitor creates the monitor. dispatcher and m may be nil.
func NewMonitor(
	store repository.Store,
	classifier Classifier,
	dispatcher *alerts.Dispatcher,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Monitor {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = 30 * time.Second
	}
	return &Monitor{
		store:      store,
		classifier: classifier,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		opts:       opts,
	}
}

// Analyze classifies one transcription chunk and records the outcome.
//
// Classifier failures never surface as errors: they become a safe negative
// verdict. The classifier call is detached from ctx cancellation, so a client
// that disconnects mid-call does not abort it.
func (m *Monitor) Analyze(ctx context.Context, in AnalyzeInput) (*AnalyzeResult, error) {
	if utf8.RuneCountInString(strings.TrimSpace(in.Transcription)) < m.opts.MinLength {
		return nil, ErrTranscriptionTooShort
	}

	speaker := strings.TrimSpace(in.Speaker)
	if speaker == "" {
		speaker = DefaultSpeaker
	}

	session, err := m.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, repository.ErrSessionNotFound
	}

	analysis := m.classify(ctx, in.SessionID, in.Transcription)

	conv := &models.Conversation{
		SessionID:     in.SessionID,
		Speaker:       speaker,
		Transcription: in.Transcription,
		IsScam:        analysis.IsScam,
		Confidence:    analysis.Confidence,
		ScamPatterns:  models.Patterns(analysis.Patterns),
	}

	var det *models.Detection
	if analysis.IsScam {
		det = &models.Detection{
			ScamType:   analysis.ScamType,
			Patterns:   models.Patterns(analysis.Patterns),
			Confidence: analysis.Confidence,
			Analysis:   analysis.Analysis,
		}
	}

	// A verdict that was paid for is kept even if the caller has gone away
	if err := m.store.RecordAnalysis(context.WithoutCancel(ctx), conv, det); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	m.metrics.RecordAnalysis(analysis.IsScam)

	if det != nil {
		m.logger.Warn("Scam detected",
			zap.String("session_id", in.SessionID),
			zap.String("conversation_id", conv.ID),
			zap.String("scam_type", det.ScamType),
			zap.Int("confidence", det.Confidence))

		severity := alerts.SeverityFor(det.Confidence)
		if m.dispatcher != nil {
			event := m.dispatcher.Dispatch(in.SessionID, det)
			severity = event.Severity
			if event.Level != alerts.LevelNone {
				m.metrics.RecordAlert(string(event.Level))
			}
		}
		m.metrics.RecordDetection(string(severity))
	}

	return &AnalyzeResult{Conversation: conv, Analysis: analysis}, nil
}

// classify calls the remote classifier and absorbs every failure
func (m *Monitor) classify(ctx context.Context, sessionID, text string) *models.ScamAnalysis {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ClassifierTimeout)
	defer cancel()

	start := time.Now()
	analysis, err := m.classifier.Classify(callCtx, text)
	if err == nil && analysis == nil {
		err = errors.New("classifier returned no verdict")
	}
	m.metrics.ObserveClassifier(time.Since(start), err != nil)

	if err != nil {
		m.logger.Error("Classifier failed, using safe verdict",
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return models.SafeAnalysis(classifierFailureReason)
	}

	analysis.Normalize()
	return analysis
}

// StartSession opens a new session. Any other active session is ended.
func (m *Monitor) StartSession(ctx context.Context) (*models.Session, error) {
	session, err := m.store.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.metrics.SetActiveSessions(1)

	m.logger.Info("Session started", zap.String("session_id", session.ID))
	return session, nil
}

// EndSession closes a session. Unknown ids are ignored.
func (m *Monitor) EndSession(ctx context.Context, sessionID string) error {
	if err := m.store.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	active, err := m.store.GetActiveSession(ctx)
	if err == nil && active == nil {
		m.metrics.SetActiveSessions(0)
	}

	m.logger.Info("Session ended", zap.String("session_id", sessionID))
	return nil
}

// ActiveSession returns the active session, or nil
func (m *Monitor) ActiveSession(ctx context.Context) (*models.Session, error) {
	return m.store.GetActiveSession(ctx)
}

// SessionStats returns conversation counts and the protection rate
func (m *Monitor) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	return m.store.GetSessionStats(ctx, sessionID)
}

// Conversations lists a session's conversations, oldest first
func (m *Monitor) Conversations(ctx context.Context, sessionID string) ([]*models.Conversation, error) {
	return m.store.GetConversationsBySession(ctx, sessionID)
}

// RecentDetections lists the newest detections across all sessions
func (m *Monitor) RecentDetections(ctx context.Context, limit int) ([]*models.Detection, error) {
	return m.store.GetRecentDetections(ctx, limit)
}

// ClassifierInfo describes the classifier in use
func (m *Monitor) ClassifierInfo() map[string]interface{} {
	return m.classifier.GetModelInfo()
}
