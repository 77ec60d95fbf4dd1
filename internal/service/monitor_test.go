package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callguard/internal/alerts"
	"callguard/internal/metrics"
	"callguard/internal/models"
	"callguard/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubClassifier struct {
	calls int32
	fn    func(ctx context.Context, text string) (*models.ScamAnalysis, error)
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (*models.ScamAnalysis, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(ctx, text)
}

func (s *stubClassifier) Close() error { return nil }

func (s *stubClassifier) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "stub"}
}

func verdict(a models.ScamAnalysis) *stubClassifier {
	return &stubClassifier{fn: func(ctx context.Context, text string) (*models.ScamAnalysis, error) {
		out := a
		return &out, nil
	}}
}

type captureNotifier struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (n *captureNotifier) Name() string { return "capture" }

func (n *captureNotifier) Notify(ctx context.Context, event alerts.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func newTestMonitor(t *testing.T, classifier Classifier, opts Options, notifiers ...alerts.Notifier) (*Monitor, repository.Store, *alerts.Dispatcher) {
	t.Helper()
	return newTestMonitorWithStore(t, repository.NewMemoryStore(), classifier, opts, notifiers...)
}

func newTestMonitorWithStore(t *testing.T, store repository.Store, classifier Classifier, opts Options, notifiers ...alerts.Notifier) (*Monitor, repository.Store, *alerts.Dispatcher) {
	t.Helper()
	dispatcher := alerts.NewDispatcher(alerts.DefaultPolicy(), zap.NewNop(), notifiers...)
	return NewMonitor(store, classifier, dispatcher, metrics.New(), opts, zap.NewNop()), store, dispatcher
}

func newSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	logger := zap.NewNop()
	db, err := repository.NewDB("sqlite", ":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, repository.MigrateDB(db, "sqlite", logger))

	store := repository.NewSQLStore(db, nil, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAnalyzeBenignConversation(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{IsScam: false, Confidence: 5, ScamType: "none", Analysis: "small talk"})
	monitor, store, _ := newTestMonitor(t, classifier, Options{})
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	result, err := monitor.Analyze(ctx, AnalyzeInput{
		Transcription: "Hello, how are you?",
		SessionID:     session.ID,
	})
	require.NoError(t, err)

	assert.False(t, result.Conversation.IsScam)
	assert.Equal(t, 5, result.Conversation.Confidence)
	assert.Equal(t, DefaultSpeaker, result.Conversation.Speaker)
	assert.Equal(t, 5, result.Analysis.Confidence)

	detections, err := store.GetRecentDetections(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, detections)

	stats, err := monitor.SessionStats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.Equal(t, 0, stats.TotalScams)
	assert.Equal(t, 100.0, stats.ProtectionRate)
}

func TestAnalyzeScamCreatesLinkedDetection(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{
		IsScam:     true,
		Confidence: 85,
		ScamType:   "Bank impersonation",
		Patterns:   []string{"OTP request"},
		Analysis:   "Caller impersonates the bank and asks for an OTP",
	})
	notifier := &captureNotifier{}
	monitor, _, dispatcher := newTestMonitor(t, classifier, Options{}, notifier)
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	result, err := monitor.Analyze(ctx, AnalyzeInput{
		Transcription: "Sir, I am calling from SBI, please share the OTP you just received",
		Speaker:       "Caller",
		SessionID:     session.ID,
	})
	require.NoError(t, err)
	assert.True(t, result.Conversation.IsScam)
	assert.Equal(t, models.Patterns{"OTP request"}, result.Conversation.ScamPatterns)

	detections, err := monitor.RecentDetections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	require.NotNil(t, detections[0].ConversationID)
	assert.Equal(t, result.Conversation.ID, *detections[0].ConversationID)
	assert.Equal(t, 85, detections[0].Confidence)
	assert.Equal(t, "Bank impersonation", detections[0].ScamType)

	active, err := monitor.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active.TotalScamsDetected)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, dispatcher.Wait(waitCtx))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 1)
	assert.Equal(t, alerts.LevelBlock, notifier.events[0].Level)
	assert.Equal(t, session.ID, notifier.events[0].SessionID)
}

func TestAnalyzeRejectsShortText(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{})
	monitor, store, _ := newTestMonitor(t, classifier, Options{})
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	for _, text := range []string{"", "hi", "   short   ", "नमस्ते जी"} {
		_, err := monitor.Analyze(ctx, AnalyzeInput{Transcription: text, SessionID: session.ID})
		assert.ErrorIs(t, err, ErrTranscriptionTooShort, "text %q", text)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&classifier.calls))
	convs, err := store.GetConversationsBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAnalyzeConfigurableMinLength(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{Confidence: 1})
	monitor, _, _ := newTestMonitor(t, classifier, Options{MinLength: 5})
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	_, err = monitor.Analyze(ctx, AnalyzeInput{Transcription: "hello", SessionID: session.ID})
	assert.NoError(t, err)
}

func TestAnalyzeUnknownSession(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{})
	monitor, _, _ := newTestMonitor(t, classifier, Options{})

	_, err := monitor.Analyze(context.Background(), AnalyzeInput{
		Transcription: "Hello, how are you?",
		SessionID:     "missing",
	})
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	assert.Equal(t, int32(0), atomic.LoadInt32(&classifier.calls))
}

func TestAnalyzeClassifierFailureIsSafe(t *testing.T) {
	for name, classifier := range map[string]*stubClassifier{
		"error": {fn: func(ctx context.Context, text string) (*models.ScamAnalysis, error) {
			return nil, errors.New("gemini API error: 503")
		}},
		"nil verdict": {fn: func(ctx context.Context, text string) (*models.ScamAnalysis, error) {
			return nil, nil
		}},
	} {
		t.Run(name, func(t *testing.T) {
			monitor, store, _ := newTestMonitor(t, classifier, Options{})
			ctx := context.Background()

			session, err := monitor.StartSession(ctx)
			require.NoError(t, err)

			result, err := monitor.Analyze(ctx, AnalyzeInput{Transcription: "Hello, how are you?", SessionID: session.ID})
			require.NoError(t, err)

			assert.False(t, result.Analysis.IsScam)
			assert.Equal(t, 0, result.Analysis.Confidence)
			assert.Equal(t, "none", result.Analysis.ScamType)
			assert.Equal(t, []string{}, result.Analysis.Patterns)
			assert.Equal(t, "Unable to analyze due to service error", result.Analysis.Analysis)
			assert.False(t, result.Conversation.IsScam)

			detections, err := store.GetRecentDetections(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, detections)
		})
	}
}

func TestAnalyzeClampsConfidence(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{IsScam: true, Confidence: 180, ScamType: "Lottery"})
	monitor, _, _ := newTestMonitor(t, classifier, Options{})
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	result, err := monitor.Analyze(ctx, AnalyzeInput{Transcription: "You have won a lottery prize", SessionID: session.ID})
	require.NoError(t, err)
	assert.Equal(t, 100, result.Analysis.Confidence)
	assert.Equal(t, 100, result.Conversation.Confidence)
	assert.Equal(t, []string{}, result.Analysis.Patterns)
}

func TestAnalyzeClassifierTimeout(t *testing.T) {
	classifier := &stubClassifier{fn: func(ctx context.Context, text string) (*models.ScamAnalysis, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	monitor, _, _ := newTestMonitor(t, classifier, Options{ClassifierTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	result, err := monitor.Analyze(ctx, AnalyzeInput{Transcription: "Hello, how are you?", SessionID: session.ID})
	require.NoError(t, err)
	assert.False(t, result.Analysis.IsScam)
	assert.Equal(t, "Unable to analyze due to service error", result.Analysis.Analysis)
}

func TestAnalyzeSurvivesCallerCancellation(t *testing.T) {
	stores := map[string]func(t *testing.T) repository.Store{
		"memory": func(t *testing.T) repository.Store { return repository.NewMemoryStore() },
		"sqlite": newSQLiteStore,
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})
			var ctxErrAtReturn error

			classifier := &stubClassifier{fn: func(ctx context.Context, text string) (*models.ScamAnalysis, error) {
				close(started)
				<-release
				ctxErrAtReturn = ctx.Err()
				return &models.ScamAnalysis{IsScam: true, Confidence: 70, ScamType: "Tech support"}, nil
			}}
			monitor, store, _ := newTestMonitorWithStore(t, newStore(t), classifier, Options{})

			session, err := monitor.StartSession(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan *AnalyzeResult, 1)
			go func() {
				result, err := monitor.Analyze(ctx, AnalyzeInput{Transcription: "Your computer has a virus, install this app", SessionID: session.ID})
				assert.NoError(t, err)
				done <- result
			}()

			<-started
			cancel()
			close(release)

			select {
			case result := <-done:
				require.NotNil(t, result)
				assert.NoError(t, ctxErrAtReturn)
				assert.True(t, result.Analysis.IsScam)
			case <-time.After(2 * time.Second):
				t.Fatal("analyze did not finish")
			}

			convs, err := store.GetConversationsBySession(context.Background(), session.ID)
			require.NoError(t, err)
			assert.Len(t, convs, 1)

			detections, err := store.GetRecentDetections(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, detections, 1)
			assert.Equal(t, convs[0].ID, *detections[0].ConversationID)
		})
	}
}

// failingStore rejects every analysis write
type failingStore struct {
	repository.Store
}

func (failingStore) RecordAnalysis(ctx context.Context, conv *models.Conversation, det *models.Detection) error {
	return errors.New("disk full")
}

func TestAnalyzeStoreFailureRaisesNoAlert(t *testing.T) {
	classifier := verdict(models.ScamAnalysis{IsScam: true, Confidence: 90, ScamType: "Lottery"})
	notifier := &captureNotifier{}
	monitor, _, dispatcher := newTestMonitorWithStore(t, failingStore{repository.NewMemoryStore()}, classifier, Options{}, notifier)
	ctx := context.Background()

	session, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	_, err = monitor.Analyze(ctx, AnalyzeInput{Transcription: "You have won a lottery prize", SessionID: session.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NoError(t, dispatcher.Wait(ctx))
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.events)
}

func TestSessionLifecycle(t *testing.T) {
	monitor, _, _ := newTestMonitor(t, verdict(models.ScamAnalysis{}), Options{})
	ctx := context.Background()

	first, err := monitor.StartSession(ctx)
	require.NoError(t, err)
	second, err := monitor.StartSession(ctx)
	require.NoError(t, err)

	active, err := monitor.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	assert.NotEqual(t, first.ID, active.ID)

	require.NoError(t, monitor.EndSession(ctx, second.ID))
	require.NoError(t, monitor.EndSession(ctx, "does-not-exist"))

	active, err = monitor.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	convs, err := monitor.Conversations(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Equal(t, "stub", monitor.ClassifierInfo()["provider"])
}
