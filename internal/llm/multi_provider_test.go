package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"callguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	name   string
	err    error
	calls  int32
	closed bool
}

func (p *stubProvider) Classify(ctx context.Context, text string) (*models.ScamAnalysis, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return &models.ScamAnalysis{ScamType: p.name, Patterns: []string{}}, nil
}

func (p *stubProvider) Close() error {
	p.closed = true
	return nil
}

func (p *stubProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": p.name}
}

func TestMultiProviderFallsBack(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second"}
	client := newMultiProviderClient([]Provider{first, second}, 3, zap.NewNop())

	got, err := client.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "second", got.ScamType)

	// one failure is below the threshold, so the first provider stays current
	_, index := client.getCurrentProvider()
	assert.Equal(t, 0, index)
}

func TestMultiProviderSwitchesAfterMaxFailures(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second"}
	client := newMultiProviderClient([]Provider{first, second}, 2, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := client.Classify(context.Background(), "text")
		require.NoError(t, err)
	}

	_, index := client.getCurrentProvider()
	assert.Equal(t, 1, index)

	_, err := client.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&first.calls))
}

func TestMultiProviderSwitchesOnRateLimit(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("groq API returned status 429: slow down")}
	second := &stubProvider{name: "second"}
	client := newMultiProviderClient([]Provider{first, second}, 5, zap.NewNop())

	_, err := client.Classify(context.Background(), "text")
	require.NoError(t, err)

	_, index := client.getCurrentProvider()
	assert.Equal(t, 1, index)
}

func TestMultiProviderAllFail(t *testing.T) {
	cause := errors.New("second down")
	client := newMultiProviderClient([]Provider{
		&stubProvider{err: errors.New("first down")},
		&stubProvider{err: cause},
	}, 3, zap.NewNop())

	_, err := client.Classify(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestMultiProviderModelInfoListsProviders(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second"}
	client := newMultiProviderClient([]Provider{first, second}, 1, zap.NewNop())

	_, err := client.Classify(context.Background(), "text")
	require.NoError(t, err)

	info := client.GetModelInfo()
	assert.Equal(t, "second", info["provider"])
	assert.Equal(t, 1, info["provider_index"])
	assert.Equal(t, 2, info["total_providers"])

	providers, ok := info["providers"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, providers, 2)
	assert.Equal(t, "first", providers[0]["provider"])
	assert.Equal(t, false, providers[0]["is_current"])
	assert.Equal(t, true, providers[1]["is_current"])
}

func TestMultiProviderClose(t *testing.T) {
	a, b := &stubProvider{}, &stubProvider{}
	client := newMultiProviderClient([]Provider{a, b}, 0, zap.NewNop())

	require.NoError(t, client.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("status 429")))
	assert.True(t, isRateLimitError(errors.New("Quota exceeded")))
	assert.True(t, isRateLimitError(errors.New("upstream Rate Limit reached")))
	assert.False(t, isRateLimitError(errors.New("connection refused")))
	assert.False(t, isRateLimitError(nil))
}

func TestRateLimiterUnlimited(t *testing.T) {
	var rl *RateLimiter = NewRateLimiter(0)
	assert.Nil(t, rl)
	assert.NoError(t, rl.Wait(context.Background()))
}

func TestRateLimiterBlocksPastBurst(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimitedProviderPassesThrough(t *testing.T) {
	inner := &stubProvider{name: "inner"}
	p := NewRateLimitedProvider(inner, 0, zap.NewNop())

	got, err := p.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "inner", got.ScamType)
	assert.Equal(t, "inner", p.GetModelInfo()["provider"])
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "mystery", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClassifierSingleProvider(t *testing.T) {
	c, err := NewClassifier([]ProviderConfig{{Type: ProviderGroq, APIKey: "k"}}, 3, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.(*RateLimitedProvider)
	assert.True(t, ok)
	assert.Equal(t, "groq", c.GetModelInfo()["provider"])
}

func TestNewClassifierRequiresProvider(t *testing.T) {
	_, err := NewClassifier(nil, 3, zap.NewNop())
	assert.Error(t, err)
}
