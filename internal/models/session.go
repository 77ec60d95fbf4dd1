package models

import (
	"math"
	"time"
)

// Session is a bounded monitoring interval. Conversations are attributed to it.
type Session struct {
	ID                 string     `json:"id" db:"id"`
	StartedAt          time.Time  `json:"startedAt" db:"started_at"`
	EndedAt            *time.Time `json:"endedAt" db:"ended_at"` // nil while active
	TotalScamsDetected int        `json:"totalScamsDetected" db:"total_scams_detected"`
	IsActive           bool       `json:"isActive" db:"is_active"`
}

// SessionStats is the per-session aggregate shown on the dashboard
type SessionStats struct {
	TotalConversations int     `json:"totalConversations" db:"total_conversations"`
	TotalScams         int     `json:"totalScams" db:"total_scams"`
	ProtectionRate     float64 `json:"protectionRate" db:"-"`
}

// NewSessionStats builds stats from raw counts.
func NewSessionStats(total, scams int) *SessionStats {
	return &SessionStats{
		TotalConversations: total,
		TotalScams:         scams,
		ProtectionRate:     ProtectionRate(total, scams),
	}
}

// ProtectionRate is the share of non-scam conversations as a percentage,
// rounded to one decimal place. A session with no conversations is 100.
func ProtectionRate(total, scams int) float64 {
	if total <= 0 {
		return 100
	}
	if scams < 0 {
		scams = 0
	}
	if scams > total {
		scams = total
	}
	rate := float64(total-scams) / float64(total) * 100
	return math.Round(rate*10) / 10
}
