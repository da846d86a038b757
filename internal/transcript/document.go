package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/scoring"
)

// document is the stored shape of a transcript. User and transcript IDs
// come from the path and are not repeated in the body.
type document struct {
	ActivityID   string                   `json:"aid"`
	ActivityType model.ActivityType       `json:"atp"`
	PlanID       string                   `json:"pid"`
	LanguageTag  string                   `json:"bcp47"`
	CreatedAt    time.Time                `json:"created_at"`
	Status       model.Status             `json:"status"`
	Summary      string                   `json:"summary,omitempty"`
	Grade        *scoring.Level           `json:"grade,omitempty"`
	Topics       []string                 `json:"topics,omitempty"`
	Assessment   string                   `json:"assessment,omitempty"`
	Feedback     model.Feedback           `json:"feedback,omitempty"`
	Messages     map[string]storedMessage `json:"messages"`
}

// storedMessage tolerates a legacy "mid" attribute inside the message body.
type storedMessage struct {
	model.Message
	LegacyID string `json:"mid,omitempty"`
}

func toDocument(t *model.Transcript) document {
	doc := document{
		ActivityID:   t.ActivityID,
		ActivityType: t.ActivityType,
		PlanID:       t.PlanID,
		LanguageTag:  t.LanguageTag,
		CreatedAt:    t.CreatedAt,
		Status:       t.Status,
		Summary:      t.Summary,
		Grade:        t.Grade,
		Topics:       t.Topics,
		Assessment:   t.Assessment,
		Feedback:     t.Feedback,
		Messages:     make(map[string]storedMessage, t.Len()),
	}
	for id, m := range t.Entries() {
		doc.Messages[id] = storedMessage{Message: m}
	}
	return doc
}

// fromDocument rebuilds a transcript. legacy receives the IDs of messages
// that carried a stale "mid" attribute.
func fromDocument(ref Ref, doc document, legacy func(id, mid string)) (*model.Transcript, error) {
	if !doc.Status.Valid() {
		return nil, fmt.Errorf("%w: %s has status %q", ErrCorruptRecord, ref, doc.Status)
	}
	t := &model.Transcript{
		ID:           ref.TranscriptID,
		UserID:       ref.UserID,
		ActivityID:   doc.ActivityID,
		ActivityType: doc.ActivityType,
		PlanID:       doc.PlanID,
		LanguageTag:  doc.LanguageTag,
		CreatedAt:    doc.CreatedAt,
		Status:       doc.Status,
		Summary:      doc.Summary,
		Grade:        doc.Grade,
		Topics:       doc.Topics,
		Assessment:   doc.Assessment,
		Feedback:     doc.Feedback,
	}
	for id, m := range doc.Messages {
		if m.LegacyID != "" && legacy != nil {
			legacy(id, m.LegacyID)
		}
		t.Restore(id, m.Message)
	}
	return t, nil
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

func messagePatch(id string, m model.Message) (json.RawMessage, error) {
	return encode(map[string]any{"messages": map[string]model.Message{id: m}})
}

// replacePatch turns message id from prev into next. A merge patch only
// adds and overwrites, so fields next drops are sent as explicit nulls.
func replacePatch(id string, prev, next model.Message) (json.RawMessage, error) {
	from, err := encode(prev)
	if err != nil {
		return nil, err
	}
	to, err := encode(next)
	if err != nil {
		return nil, err
	}
	diff, err := jsonpatch.CreateMergePatch(from, to)
	if err != nil {
		return nil, fmt.Errorf("diff message %s: %w", id, err)
	}
	return encode(map[string]any{"messages": map[string]json.RawMessage{id: diff}})
}
