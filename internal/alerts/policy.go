package alerts

import (
	"time"

	"callguard/internal/models"
)

// Level is the action a client should take for a verdict
type Level string

const (
	LevelNone  Level = "none"
	LevelWarn  Level = "warn"
	LevelBlock Level = "block"
)

// Severity is the display tier of a detection
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Policy maps verdict confidence to alert levels.
// It only drives notifications; stored records never depend on it.
type Policy struct {
	WarnThreshold  int
	BlockThreshold int
}

// DefaultPolicy warns at 30 and blocks at 60
func DefaultPolicy() Policy {
	return Policy{WarnThreshold: 30, BlockThreshold: 60}
}

// Level classifies a verdict. Non-scam verdicts are never alerted.
func (p Policy) Level(isScam bool, confidence int) Level {
	if !isScam {
		return LevelNone
	}
	switch {
	case confidence >= p.BlockThreshold:
		return LevelBlock
	case confidence >= p.WarnThreshold:
		return LevelWarn
	default:
		return LevelNone
	}
}

// SeverityFor returns the display tier: high from 80, medium from 50
func SeverityFor(confidence int) Severity {
	switch {
	case confidence >= 80:
		return SeverityHigh
	case confidence >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Event is one alert delivered to notifiers
type Event struct {
	Level     Level             `json:"level"`
	Severity  Severity          `json:"severity"`
	SessionID string            `json:"sessionId"`
	Detection *models.Detection `json:"detection"`
	RaisedAt  time.Time         `json:"raisedAt"`
}

// NewEvent builds the event for a stored detection
func (p Policy) NewEvent(sessionID string, det *models.Detection) Event {
	return Event{
		Level:     p.Level(true, det.Confidence),
		Severity:  SeverityFor(det.Confidence),
		SessionID: sessionID,
		Detection: det,
		RaisedAt:  time.Now().UTC(),
	}
}
