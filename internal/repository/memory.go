package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"callguard/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps all records in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu            sync.RWMutex
	clock         *clock
	sessions      map[string]*models.Session
	conversations map[string]*models.Conversation
	detections    map[string]*models.Detection
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:         newClock(),
		sessions:      make(map[string]*models.Session),
		conversations: make(map[string]*models.Conversation),
		detections:    make(map[string]*models.Detection),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, existing := range s.sessions {
		if existing.IsActive {
			existing.IsActive = false
			ended := now
			existing.EndedAt = &ended
		}
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		StartedAt: now,
		IsActive:  true,
	}
	s.sessions[session.ID] = session

	return cloneSession(session), nil
}

func (s *MemoryStore) EndSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || !session.IsActive {
		return nil
	}

	ended := s.clock.Now()
	session.IsActive = false
	session.EndedAt = &ended
	return nil
}

func (s *MemoryStore) GetActiveSession(ctx context.Context) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.IsActive {
			return cloneSession(session), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneSession(session), nil
}

func (s *MemoryStore) GetSessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, scams := 0, 0
	for _, conv := range s.conversations {
		if conv.SessionID != sessionID {
			continue
		}
		total++
		if conv.IsScam {
			scams++
		}
	}
	return models.NewSessionStats(total, scams), nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createConversationLocked(conv)
}

func (s *MemoryStore) createConversationLocked(conv *models.Conversation) error {
	if _, ok := s.sessions[conv.SessionID]; !ok {
		return ErrSessionNotFound
	}

	conv.ID = uuid.New().String()
	conv.Timestamp = s.clock.Now()
	conv.Confidence = models.ClampConfidence(conv.Confidence)

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) GetConversationsBySession(ctx context.Context, sessionID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.SessionID == sessionID {
			result = append(result, cloneConversation(conv))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) CreateDetection(ctx context.Context, det *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createDetectionLocked(det)
}

func (s *MemoryStore) createDetectionLocked(det *models.Detection) error {
	var session *models.Session
	if det.ConversationID != nil {
		conv, ok := s.conversations[*det.ConversationID]
		if !ok {
			return ErrConversationNotFound
		}
		session = s.sessions[conv.SessionID]
	}

	det.ID = uuid.New().String()
	det.DetectedAt = s.clock.Now()
	det.Confidence = models.ClampConfidence(det.Confidence)
	if det.Patterns == nil {
		det.Patterns = models.Patterns{}
	}

	s.detections[det.ID] = cloneDetection(det)

	if session != nil {
		session.TotalScamsDetected++
	}
	return nil
}

func (s *MemoryStore) RecordAnalysis(ctx context.Context, conv *models.Conversation, det *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.createConversationLocked(conv); err != nil {
		return err
	}
	if det == nil {
		return nil
	}

	convID := conv.ID
	det.ConversationID = &convID
	if err := s.createDetectionLocked(det); err != nil {
		// undo so the pair is stored together or not at all
		delete(s.conversations, conv.ID)
		return err
	}
	return nil
}

func (s *MemoryStore) GetRecentDetections(ctx context.Context, limit int) ([]*models.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Detection, 0, len(s.detections))
	for _, det := range s.detections {
		result = append(result, cloneDetection(det))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Stored records never share slices or pointers with callers.

func cloneSession(session *models.Session) *models.Session {
	out := *session
	if session.EndedAt != nil {
		ended := *session.EndedAt
		out.EndedAt = &ended
	}
	return &out
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.ScamPatterns = slices.Clone(conv.ScamPatterns)
	return &out
}

func cloneDetection(det *models.Detection) *models.Detection {
	out := *det
	out.Patterns = slices.Clone(det.Patterns)
	if det.ConversationID != nil {
		id := *det.ConversationID
		out.ConversationID = &id
	}
	return &out
}
