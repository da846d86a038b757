package model

import "fmt"

// ActivityType is the kind of session a plan drives.
type ActivityType string

const (
	ActivityIntro        ActivityType = "intro"
	ActivityGuided       ActivityType = "guided"
	ActivityScenario     ActivityType = "scenario"
	ActivityUnstructured ActivityType = "unstructured"
	ActivityLesson       ActivityType = "lesson"
	ActivityStory        ActivityType = "story"
	ActivityDrill        ActivityType = "drill"
	ActivityAssessment   ActivityType = "assessment"
)

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityIntro, ActivityGuided, ActivityScenario, ActivityUnstructured,
		ActivityLesson, ActivityStory, ActivityDrill, ActivityAssessment:
		return true
	}
	return false
}

// Plan carries the identifiers a transcript copies at creation.
type Plan struct {
	ActivityID   string       `json:"aid"`
	ActivityType ActivityType `json:"atp"`
	PlanID       string       `json:"pid"`
	UserID       string       `json:"uid"`
	LanguageTag  string       `json:"bcp47"`
}

// Validate checks the plan has everything a transcript needs.
func (p Plan) Validate() error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidPlan)
	case p.ActivityID == "":
		return fmt.Errorf("%w: missing activity id", ErrInvalidPlan)
	case p.PlanID == "":
		return fmt.Errorf("%w: missing plan id", ErrInvalidPlan)
	case !p.ActivityType.Valid():
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidPlan, p.ActivityType)
	}
	return nil
}

// Feedback is the user's verdict on a finished session.
type Feedback string

const (
	FeedbackGood      Feedback = "good"
	FeedbackBad       Feedback = "bad"
	FeedbackNone      Feedback = "none"
	FeedbackAbandoned Feedback = "abandoned"
)
