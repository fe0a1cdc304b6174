package model

import "time"

// EventType tags an outbound race event.
type EventType string

// Outbound event kinds.
const (
	EventProgressUpdate      EventType = "progress_update"
	EventParticipantFinished EventType = "participant_finished"
	EventRaceFinished        EventType = "race_finished"
	EventChatMessage         EventType = "chat_message"
)

// Event is an outbound race event. Exactly one payload pointer is set,
// matching Type.
type Event struct {
	Type     EventType            `json:"type"`
	RaceID   string               `json:"raceId"`
	TS       time.Time            `json:"ts"`
	Progress *ProgressPayload     `json:"progress,omitempty"`
	Finished *FinishedPayload     `json:"finished,omitempty"`
	Race     *RaceFinishedPayload `json:"race,omitempty"`
	Chat     *ChatPayload         `json:"chat,omitempty"`
}

// ProgressPayload carries a progress_update.
type ProgressPayload struct {
	ParticipantID string  `json:"participantId"`
	Progress      int     `json:"progress"`
	WPM           float64 `json:"wpm"`
	Accuracy      float64 `json:"accuracy"`
	Errors        int     `json:"errors"`
}

// FinishedPayload carries a participant_finished.
type FinishedPayload struct {
	ParticipantID string `json:"participantId"`
	Position      int    `json:"position"`
}

// RaceFinishedPayload carries a race_finished.
type RaceFinishedPayload struct {
	Placements    []Placement    `json:"placements"`
	RatingChanges []RatingChange `json:"ratingChanges,omitempty"`
}

// ChatPayload carries a chat_message.
type ChatPayload struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Message       string `json:"message"`
}

// NewProgressEvent builds a progress_update event.
func NewProgressEvent(u ProgressUpdate) Event {
	return Event{
		Type:   EventProgressUpdate,
		RaceID: u.RaceID,
		TS:     u.At,
		Progress: &ProgressPayload{
			ParticipantID: u.ParticipantID,
			Progress:      u.Progress,
			WPM:           u.WPM,
			Accuracy:      u.Accuracy,
			Errors:        u.Errors,
		},
	}
}

// NewFinishedEvent builds a participant_finished event.
func NewFinishedEvent(raceID string, r FinishResult) Event {
	return Event{
		Type:     EventParticipantFinished,
		RaceID:   raceID,
		TS:       r.FinishedAt,
		Finished: &FinishedPayload{ParticipantID: r.ParticipantID, Position: r.Position},
	}
}

// NewChatEvent builds a chat_message event.
func NewChatEvent(raceID, participantID, name, message string, at time.Time) Event {
	return Event{
		Type:   EventChatMessage,
		RaceID: raceID,
		TS:     at,
		Chat:   &ChatPayload{ParticipantID: participantID, Name: name, Message: message},
	}
}

// NewRaceFinishedEvent builds a race_finished event.
func NewRaceFinishedEvent(raceID string, placements []Placement, changes []RatingChange, at time.Time) Event {
	return Event{
		Type:   EventRaceFinished,
		RaceID: raceID,
		TS:     at,
		Race:   &RaceFinishedPayload{Placements: placements, RatingChanges: changes},
	}
}
