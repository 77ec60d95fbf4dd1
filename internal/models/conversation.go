package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Conversation is one analyzed chunk of transcribed speech.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"sessionId" db:"session_id"`
	Speaker       string    `json:"speaker" db:"speaker"`
	Transcription string    `json:"transcription" db:"transcription"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	IsScam        bool      `json:"isScam" db:"is_scam"`
	Confidence    int       `json:"confidence" db:"confidence"` // 0-100
	ScamPatterns  Patterns  `json:"scamPatterns" db:"scam_patterns"`
}

// Detection is created only for conversations flagged as fraudulent
type Detection struct {
	ID             string    `json:"id" db:"id"`
	ConversationID *string   `json:"conversationId" db:"conversation_id"`
	DetectedAt     time.Time `json:"detectedAt" db:"detected_at"`
	ScamType       string    `json:"scamType" db:"scam_type"`
	Patterns       Patterns  `json:"patterns" db:"patterns"`
	Confidence     int       `json:"confidence" db:"confidence"`
	Analysis       string    `json:"analysis" db:"analysis"`
}

// Patterns is a list of matched phrases, stored as a JSON array column.
// A nil Patterns is stored as SQL NULL and encoded as JSON null.
type Patterns []string

// Value implements driver.Valuer
func (p Patterns) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode patterns: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (p *Patterns) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported patterns column type %T", src)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode patterns: %w", err)
	}
	*p = out
	return nil
}
