package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectionRate(t *testing.T) {
	tests := []struct {
		name         string
		total, scams int
		want         float64
	}{
		{"no conversations", 0, 0, 100},
		{"no scams", 4, 0, 100},
		{"all scams", 3, 3, 0},
		{"one in three", 3, 1, 66.7},
		{"two in three", 3, 2, 33.3},
		{"one in eight", 8, 1, 87.5},
		{"scams above total are capped", 2, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProtectionRate(tt.total, tt.scams)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-10))
	assert.Equal(t, 42, ClampConfidence(42))
	assert.Equal(t, 100, ClampConfidence(250))
}

func TestSafeAnalysis(t *testing.T) {
	a := SafeAnalysis("Unable to analyze due to service error")
	assert.False(t, a.IsScam)
	assert.Zero(t, a.Confidence)
	assert.Equal(t, "none", a.ScamType)
	assert.NotNil(t, a.Patterns)
	assert.Empty(t, a.Patterns)
}

func TestNormalize(t *testing.T) {
	a := &ScamAnalysis{IsScam: true, Confidence: 130}
	a.Normalize()
	assert.Equal(t, 100, a.Confidence)
	assert.Equal(t, []string{}, a.Patterns)
	assert.Equal(t, "unknown", a.ScamType)

	b := &ScamAnalysis{}
	b.Normalize()
	assert.Equal(t, NoScamType, b.ScamType)
}

func TestPatternsSQL(t *testing.T) {
	v, err := Patterns{"OTP request", "urgency"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["OTP request","urgency"]`, v)

	nilValue, err := Patterns(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, nilValue)

	var p Patterns
	require.NoError(t, p.Scan([]byte(`["KYC"]`)))
	assert.Equal(t, Patterns{"KYC"}, p)

	require.NoError(t, p.Scan(nil))
	assert.Nil(t, p)

	assert.Error(t, p.Scan(42))
}

func TestConversationJSONShape(t *testing.T) {
	b, err := json.Marshal(Conversation{ID: "c1", SessionID: "s1"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &fields))
	for _, key := range []string{"id", "sessionId", "speaker", "transcription", "timestamp", "isScam", "confidence", "scamPatterns"} {
		assert.Contains(t, fields, key)
	}
	assert.Nil(t, fields["scamPatterns"])
}
