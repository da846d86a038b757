// Package types contains the request and response shapes of the HTTP API.
package types

import (
	"time"

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/scoring"
)

// MessageView is one message as served by the API.
type MessageView struct {
	ID          string         `json:"id"`
	Role        model.Role     `json:"role"`
	Body        string         `json:"body"`
	CreatedAt   time.Time      `json:"created_at"`
	Score       scoring.Scores `json:"score,omitempty"`
	Translation string         `json:"translation,omitempty"`
	Vocab       []model.Vocab  `json:"vocab,omitempty"`
}

// TranscriptView is a transcript with its derived values filled in.
type TranscriptView struct {
	ID           string             `json:"id"`
	UserID       string             `json:"uid"`
	ActivityID   string             `json:"aid"`
	ActivityType model.ActivityType `json:"atp"`
	PlanID       string             `json:"pid"`
	LanguageTag  string             `json:"bcp47"`
	CreatedAt    time.Time          `json:"created_at"`
	LastUpdated  time.Time          `json:"last_updated"`
	Status       model.Status       `json:"status"`
	Summary      string             `json:"summary,omitempty"`
	Grade        *scoring.Level     `json:"grade,omitempty"`
	Topics       []string           `json:"topics,omitempty"`
	Assessment   string             `json:"assessment,omitempty"`
	Feedback     model.Feedback     `json:"feedback,omitempty"`
	Scores       scoring.Summary    `json:"scores,omitempty"`
	Messages     []MessageView      `json:"messages"`
}

// NewTranscriptView renders t with messages in canonical order.
func NewTranscriptView(t *model.Transcript) TranscriptView {
	v := TranscriptView{
		ID:           t.ID,
		UserID:       t.UserID,
		ActivityID:   t.ActivityID,
		ActivityType: t.ActivityType,
		PlanID:       t.PlanID,
		LanguageTag:  t.LanguageTag,
		CreatedAt:    t.CreatedAt,
		LastUpdated:  t.LastUpdated(),
		Status:       t.Status,
		Summary:      t.Summary,
		Grade:        t.Grade,
		Topics:       t.Topics,
		Assessment:   t.Assessment,
		Feedback:     t.Feedback,
		Scores:       t.Scores(),
		Messages:     make([]MessageView, 0, t.Len()),
	}
	for id, m := range t.Entries() {
		v.Messages = append(v.Messages, MessageView{
			ID:          id,
			Role:        m.Role,
			Body:        m.Body,
			CreatedAt:   m.CreatedAt,
			Score:       m.Score,
			Translation: m.Translation,
			Vocab:       m.Vocab,
		})
	}
	return v
}

// MessageRequest is the body of an append or message update.
type MessageRequest struct {
	Role        model.Role     `json:"role"`
	Body        string         `json:"body"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	Score       scoring.Scores `json:"score,omitempty"`
	Translation string         `json:"translation,omitempty"`
	Vocab       []model.Vocab  `json:"vocab,omitempty"`
}

// Message converts the request into a domain message.
func (r MessageRequest) Message() model.Message {
	return model.Message{
		Role:        r.Role,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt.UTC(),
		Score:       r.Score,
		Translation: r.Translation,
		Vocab:       r.Vocab,
	}
}

// AppendResponse answers an append.
type AppendResponse struct {
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Mirrored  bool   `json:"mirrored"`
}

// FinalizeResponse answers a finalize.
type FinalizeResponse struct {
	Status model.Status `json:"status"`
}
