package models

type OnboardingStatus string

const (
	StatusNotStarted OnboardingStatus = "not_started"
	StatusInProgress OnboardingStatus = "in_progress"
	StatusCompleted  OnboardingStatus = "completed"
)
