// Package model contains the transcript aggregate and its value types.
package model

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/okian/tutorlog/internal/domain/scoring"
)

// Status is the lifecycle state of a transcript.
type Status string

const (
	StatusLive  Status = "live"
	StatusFinal Status = "final"
	StatusEmpty Status = "empty"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool { return s == StatusFinal || s == StatusEmpty }

func (s Status) Valid() bool { return s == StatusLive || s.Terminal() }

const idPrefixLen = 16

// Transcript is the durable record of one learning session.
//
// Transcript is not safe for concurrent mutation. Writers must be
// serialized per transcript ID by the caller.
type Transcript struct {
	ID           string
	ActivityID   string
	ActivityType ActivityType
	PlanID       string
	UserID       string
	LanguageTag  string
	CreatedAt    time.Time
	Status       Status

	// Populated by finalization collaborators.
	Summary    string
	Grade      *scoring.Level
	Topics     []string
	Assessment string
	Feedback   Feedback

	messages map[string]Message
}

// Option customizes FromPlan.
type Option func(*Transcript)

// WithID uses id instead of a generated transcript ID.
func WithID(id string) Option {
	return func(t *Transcript) {
		if id != "" {
			t.ID = id
		}
	}
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(at time.Time) Option {
	return func(t *Transcript) {
		if !at.IsZero() {
			t.CreatedAt = at.UTC()
		}
	}
}

// FromPlan starts a live transcript for plan.
func FromPlan(plan Plan, opts ...Option) (*Transcript, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	tag, err := CanonicalLanguage(plan.LanguageTag)
	if err != nil {
		return nil, err
	}
	t := &Transcript{
		ActivityID:   plan.ActivityID,
		ActivityType: plan.ActivityType,
		PlanID:       plan.PlanID,
		UserID:       plan.UserID,
		LanguageTag:  tag,
		CreatedAt:    time.Now().UTC(),
		Status:       StatusLive,
		messages:     make(map[string]Message),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.ID == "" {
		t.ID = NewTranscriptID(tag)
	}
	return t, nil
}

// CanonicalLanguage validates a BCP-47 tag and returns its canonical form.
func CanonicalLanguage(tag string) (string, error) {
	parsed, err := language.Parse(tag)
	if err != nil || parsed == language.Und {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, tag)
	}
	return parsed.String(), nil
}

// NewTranscriptID returns "{random hex}-{languageTag}".
func NewTranscriptID(languageTag string) string {
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:idPrefixLen]
	return prefix + "-" + languageTag
}

// MessageID is the ID the next message of role would receive after n
// existing messages.
func MessageID(role Role, n int) string {
	return role.Upper() + strconv.Itoa(n)
}

// Add appends msg under a freshly assigned ID and returns that ID.
// It fails with ErrInvalidState unless the transcript is live.
func (t *Transcript) Add(msg Message) (string, error) {
	if t.Status != StatusLive {
		return "", fmt.Errorf("%w: cannot append to %s transcript %s", ErrInvalidState, t.Status, t.ID)
	}
	if !msg.Role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if t.messages == nil {
		t.messages = make(map[string]Message)
	}
	id := MessageID(msg.Role, len(t.messages))
	if _, taken := t.messages[id]; taken {
		return "", fmt.Errorf("%w: message id %s already assigned", ErrInvalidState, id)
	}
	t.messages[id] = msg
	return id, nil
}

// Forget removes id. Used to roll back an Add whose write failed.
func (t *Transcript) Forget(id string) {
	delete(t.messages, id)
}

// Restore places msg under id without any state check. It is meant for
// rebuilding a transcript from storage.
func (t *Transcript) Restore(id string, msg Message) {
	if t.messages == nil {
		t.messages = make(map[string]Message)
	}
	t.messages[id] = msg
}

// Replace overwrites an existing message.
func (t *Transcript) Replace(id string, msg Message) error {
	if _, ok := t.messages[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	t.messages[id] = msg
	return nil
}

// Message returns the message stored under id.
func (t *Transcript) Message(id string) (Message, bool) {
	m, ok := t.messages[id]
	return m, ok
}

// Len is the number of messages.
func (t *Transcript) Len() int { return len(t.messages) }

// MessageMap returns a copy of the ID to message mapping.
func (t *Transcript) MessageMap() map[string]Message {
	return maps.Clone(t.messages)
}

// Entries yields (id, message) pairs in canonical order: by CreatedAt,
// then by assignment order.
func (t *Transcript) Entries() iter.Seq2[string, Message] {
	return func(yield func(string, Message) bool) {
		for _, id := range t.orderedIDs() {
			if !yield(id, t.messages[id]) {
				return
			}
		}
	}
}

// Messages returns the messages in canonical order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.Entries() {
		out = append(out, m)
	}
	return out
}

func (t *Transcript) orderedIDs() []string {
	ids := slices.Collect(maps.Keys(t.messages))
	slices.SortFunc(ids, func(a, b string) int {
		if c := t.messages[a].CreatedAt.Compare(t.messages[b].CreatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(sequence(a), sequence(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids
}

// sequence extracts the numeric suffix of a message ID, -1 if none.
func sequence(id string) int {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return -1
	}
	return n
}

// Templatable yields "role: body" lines for the given roles in canonical
// order. With no roles it defaults to assistant and user. The sequence
// re-reads the transcript on every iteration.
func (t *Transcript) Templatable(roles ...Role) iter.Seq[string] {
	if len(roles) == 0 {
		roles = []Role{RoleAssistant, RoleUser}
	}
	return func(yield func(string) bool) {
		for _, m := range t.Entries() {
			if !slices.Contains(roles, m.Role) {
				continue
			}
			if !yield(strings.ToLower(string(m.Role)) + ": " + strings.TrimSpace(m.Body)) {
				return
			}
		}
	}
}

// ToTemplatable joins Templatable with newlines.
func (t *Transcript) ToTemplatable(roles ...Role) string {
	return strings.TrimSpace(strings.Join(slices.Collect(t.Templatable(roles...)), "\n"))
}

// Scores aggregates the scores of user messages. It is recomputed on
// every call and is nil when nothing has been scored.
func (t *Transcript) Scores() scoring.Summary {
	if len(t.messages) == 0 {
		return nil
	}
	var scored []scoring.Scores
	for _, m := range t.messages {
		if m.Role == RoleUser && len(m.Score) > 0 {
			scored = append(scored, m.Score)
		}
	}
	return scoring.Aggregate(scored)
}

// LastUpdated is the newest message time, or CreatedAt when empty.
func (t *Transcript) LastUpdated() time.Time {
	if len(t.messages) == 0 {
		return t.CreatedAt
	}
	var latest time.Time
	for _, m := range t.messages {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	return latest
}

// HasUserMessage reports whether any message came from the user.
func (t *Transcript) HasUserMessage() bool {
	for _, m := range t.messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// ResolveStatus is the terminal status finalization would produce now.
func (t *Transcript) ResolveStatus() Status {
	if t.HasUserMessage() {
		return StatusFinal
	}
	return StatusEmpty
}

// Transition moves the transcript to a terminal status. Repeating the
// transition already taken is a no-op; any other move out of a terminal
// status fails with ErrInvalidState.
func (t *Transcript) Transition(to Status) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidState, to)
	}
	switch t.Status {
	case StatusLive:
		t.Status = to
		return nil
	case to:
		return nil
	default:
		return fmt.Errorf("%w: transcript %s is %s, cannot become %s", ErrInvalidState, t.ID, t.Status, to)
	}
}
