package domain

import "time"

// RunState enumerates the lifecycle of a pipeline run.
type RunState string

const (
	StateIdle      RunState = "IDLE"
	StateRunning   RunState = "RUNNING"
	StateCompleted RunState = "COMPLETED"
	StateStopped   RunState = "STOPPED"
	StateError     RunState = "ERROR"
)

// Terminal reports whether the state is final; ended_at is set exactly
// for terminal states.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateStopped, StateError:
		return true
	}
	return false
}

// PipelineRun is the persisted record of one bounded-duration execution.
// The id is immutable; CurrentCycle and TotalArticles never decrease.
type PipelineRun struct {
	ID              string
	State           RunState
	CurrentCycle    int
	TotalArticles   int
	DurationMinutes int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// DashboardStats aggregates counts for the dashboard endpoint.
type DashboardStats struct {
	TotalArticles  int `json:"total_articles"`
	ArticlesToday  int `json:"articles_today"`
	AttestedCount  int `json:"attested_count"`
	RunsInProgress int `json:"runs_in_progress"`
}
