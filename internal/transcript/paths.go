package transcript

import (
	"fmt"
	"strings"

	"github.com/okian/tutorlog/internal/adapters/repository"
	"github.com/okian/tutorlog/internal/domain/model"
)

const (
	usersCollection       = "users"
	transcriptsCollection = "transcripts"
	statusCollection      = "status"
)

// Ref addresses one transcript.
type Ref struct {
	UserID       string
	TranscriptID string
}

// RefOf returns the address of t.
func RefOf(t *model.Transcript) Ref {
	return Ref{UserID: t.UserID, TranscriptID: t.ID}
}

// Validate rejects empty IDs and IDs that would change the path shape.
func (r Ref) Validate() error {
	for _, id := range []string{r.UserID, r.TranscriptID} {
		if id == "" || strings.Contains(id, "/") {
			return fmt.Errorf("%w: bad id %q", ErrInvalidPath, id)
		}
	}
	return nil
}

// DocPath is users/{uid}/transcripts/{tid}.
func (r Ref) DocPath() string {
	return repository.Join(usersCollection, r.UserID, transcriptsCollection, r.TranscriptID)
}

// StreamPath is the collection holding the mirrors of s.
func (r Ref) StreamPath(s Stream) string {
	return repository.Join(r.DocPath(), string(s))
}

// StreamEntryPath is the mirror document of message id in s.
func (r Ref) StreamEntryPath(s Stream, id string) string {
	return repository.Join(r.StreamPath(s), id)
}

// StatusPath is the collection of status sentinels.
func (r Ref) StatusPath() string {
	return repository.Join(r.DocPath(), statusCollection)
}

// SentinelPath is the marker created when the transcript reaches status.
func (r Ref) SentinelPath(status model.Status) string {
	return repository.Join(r.StatusPath(), string(status))
}

func (r Ref) String() string { return r.DocPath() }

// ParseDocPath parses users/{uid}/transcripts/{tid}.
func ParseDocPath(path string) (Ref, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 {
		return Ref{}, fmt.Errorf("%w: %q must have 4 segments", ErrInvalidPath, path)
	}
	if parts[0] != usersCollection {
		return Ref{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidPath, path, usersCollection)
	}
	if parts[2] != transcriptsCollection {
		return Ref{}, fmt.Errorf("%w: third segment of %q must be %q", ErrInvalidPath, path, transcriptsCollection)
	}
	ref := Ref{UserID: parts[1], TranscriptID: parts[3]}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}
