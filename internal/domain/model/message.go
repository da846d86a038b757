package model

import (
	"time"

	"github.com/okian/tutorlog/internal/domain/scoring"
)

// Vocab is a vocabulary annotation attached to a message by enrichment.
type Vocab struct {
	Term  string `json:"term"`
	Udefn string `json:"udefn,omitempty"`
	Pos   string `json:"pos,omitempty"`
}

// Message is one turn of a session. It is owned by its Transcript.
type Message struct {
	Role        Role           `json:"role"`
	Body        string         `json:"body"`
	CreatedAt   time.Time      `json:"created_at"`
	Score       scoring.Scores `json:"score,omitempty"`
	Translation string         `json:"translation,omitempty"`
	Vocab       []Vocab        `json:"vocab,omitempty"`
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(role Role, body string) Message {
	return Message{Role: role, Body: body, CreatedAt: time.Now().UTC()}
}
