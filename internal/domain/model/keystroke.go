package model

import "time"

// KeystrokeSample is one recorded key press.
type KeystrokeSample struct {
	Key       string `json:"key"`
	Expected  string `json:"expected"`
	Timestamp int64  `json:"timestamp"` // milliseconds
	Correct   bool   `json:"correct"`
	Position  int    `json:"position"`
	Trusted   *bool  `json:"trusted,omitempty"` // nil when the client did not report trust
}

// KeystrokeAnalysis is the audit row written for every validation.
type KeystrokeAnalysis struct {
	ID             string
	RaceID         string
	ParticipantID  string
	UserID         string
	SampleCount    int
	MeanIntervalMs float64
	MinIntervalMs  float64
	StdDevMs       float64
	ServerWPM      float64
	ClientWPM      float64
	Flags          []string
	IsValid        bool
	RequiresReview bool
	CreatedAt      time.Time
}

// Certification records the speed a user proved in a challenge.
type Certification struct {
	UserID       string
	CertifiedWPM float64
	CreatedAt    time.Time
}

// AuditEvent is a generic audit trail row.
type AuditEvent struct {
	ID        string
	UserID    string
	Kind      string
	Detail    string
	CreatedAt time.Time
}
