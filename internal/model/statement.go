package model

import (
	"strconv"
	"time"
)

// Statement is a single speech as delivered by the ingestion collaborator.
// Statements are never modified after they enter the pipeline.
type Statement struct {
	SpeakerName  string    `json:"speaker"`                // Speaker display name
	SpeakerID    string    `json:"speakerId,omitempty"`    // Optional stable speaker id
	Club         string    `json:"club,omitempty"`         // Parliamentary club affiliation
	Text         string    `json:"text"`                   // Plain text, or markup when Markup is set
	Markup       bool      `json:"markup,omitempty"`       // Text must go through CleanMarkup first
	Num          int       `json:"num"`                    // Statement number within the proceeding
	ProceedingID string    `json:"proceedingId,omitempty"` // Sitting identifier
	Date         time.Time `json:"date,omitempty"`
}

// ID returns a stable identifier for the statement within its proceeding.
func (s Statement) ID() string {
	if s.ProceedingID == "" {
		return strconv.Itoa(s.Num)
	}
	return s.ProceedingID + "/" + strconv.Itoa(s.Num)
}
