package model

import "time"

// RunStatus is the terminal state of one generation run.
type RunStatus string

const (
	RunStatusAccepted  RunStatus = "accepted"
	RunStatusExhausted RunStatus = "exhausted"
	// RunStatusBlocked means acquisition hit an anti-bot page and the
	// extraction core never ran.
	RunStatusBlocked RunStatus = "blocked"
	// RunStatusFailed covers network errors and other failures before or
	// outside the controller.
	RunStatusFailed RunStatus = "failed"
)

// Run records one generation attempt for a sample URL.
type Run struct {
	ID             string    `json:"id"`
	Domain         string    `json:"domain"`
	URL            string    `json:"url"`
	Status         RunStatus `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Iterations     int       `json:"iterations"`
	PatternVersion int       `json:"pattern_version,omitempty"`
	SuccessRate    float64   `json:"success_rate"`
	Diagnostics    []string  `json:"diagnostics,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
