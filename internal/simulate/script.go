package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/scoring"
	"github.com/okian/tutorlog/internal/domain/types"
)

var activities = []model.ActivityType{
	model.ActivityIntro,
	model.ActivityGuided,
	model.ActivityScenario,
	model.ActivityLesson,
	model.ActivityDrill,
}

var (
	tutorLines = []string{
		"Hello! What would you like to talk about today?",
		"Great. Can you tell me more about that?",
		"How would you say that in the past tense?",
		"Nice work. What happened next?",
		"Let's try a new word: 'neighbourhood'. Can you use it?",
	}
	learnerLines = []string{
		"Hi, I want to practice ordering food.",
		"Yesterday I go to the market with my sister.",
		"I went to the market yesterday.",
		"Then we cooked dinner together.",
		"My neighbourhood is very quiet at night.",
	}
)

// session is the scripted conversation for one transcript.
type session struct {
	plan  model.Plan
	turns []types.MessageRequest
}

// userTurns counts the learner messages in the script.
func (s session) userTurns() int {
	n := 0
	for _, t := range s.turns {
		if t.Role == model.RoleUser {
			n++
		}
	}
	return n
}

// newSession scripts session i. Silent sessions only carry the tutor's greeting.
func newSession(cfg Config, i int, start time.Time) session {
	s := session{
		plan: model.Plan{
			ActivityID:   fmt.Sprintf("sim-activity-%d", i%len(activities)),
			ActivityType: activities[i%len(activities)],
			PlanID:       uuid.NewString(),
			UserID:       fmt.Sprintf("sim-user-%d", i),
			LanguageTag:  cfg.Language,
		},
	}
	at := start
	next := func() time.Time {
		at = at.Add(time.Second)
		return at
	}

	if cfg.Silent > 0 && i%cfg.Silent == 0 {
		s.turns = append(s.turns, types.MessageRequest{Role: model.RoleAssistant, Body: tutorLines[0], CreatedAt: next()})
		return s
	}
	for turn := range cfg.Turns {
		s.turns = append(s.turns,
			types.MessageRequest{Role: model.RoleAssistant, Body: tutorLines[turn%len(tutorLines)], CreatedAt: next()},
			types.MessageRequest{Role: model.RoleUser, Body: learnerLines[turn%len(learnerLines)], CreatedAt: next(), Score: randomScores()},
		)
	}
	return s
}

// randomScores grades a learner line on a random subset of dimensions.
func randomScores() scoring.Scores {
	out := scoring.Scores{}
	for _, d := range scoring.Dimensions {
		if rand.IntN(3) == 0 {
			continue
		}
		out[d] = scoring.Score{Level: scoring.Level(1 + rand.IntN(int(scoring.LevelExpert)))}
	}
	return out
}
