package models

import "time"

// OnboardingSession is one user/device's interaction lineage with the
// wizard for one entity. Multiple open sessions per (entity, user) are
// allowed; clients resume the most recent by LastActivityAt.
type OnboardingSession struct {
	ID                 string     `json:"id"`
	EntityID           string     `json:"entityId"`
	UserID             string     `json:"userId"`
	CurrentStep        int        `json:"currentStep"`
	StepsCompleted     int        `json:"stepsCompleted"`
	StepsSkipped       int        `json:"stepsSkipped"`
	FieldsCompleted    int        `json:"fieldsCompleted"`
	FieldsSkipped      int        `json:"fieldsSkipped"`
	TotalFields        int        `json:"totalFields"`
	IsCompleted        bool       `json:"isCompleted"`
	SubmittedForReview bool       `json:"submittedForReview"`
	TotalTimeSpent     int        `json:"totalTimeSpent"` // minutes
	LastActivityAt     time.Time  `json:"lastActivityAt"`
	StartedAt          time.Time  `json:"startedAt"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
}

func (s *OnboardingSession) IsOpen() bool {
	return s.EndedAt == nil
}

// AverageStepTime is the running mean in minutes used for ETA estimates.
func (s *OnboardingSession) AverageStepTime() float64 {
	done := s.StepsCompleted
	if done < 1 {
		done = 1
	}
	return float64(s.TotalTimeSpent) / float64(done)
}
