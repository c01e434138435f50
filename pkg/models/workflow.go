package models

import "time"

// WorkflowStep is one audited agent action. Steps are append-only; their
// stored order is the audit order and is never changed afterwards.
type WorkflowStep struct {
	Label     string    `json:"label"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Workflow summary statuses.
const (
	WorkflowInProgress = "in_progress"
	WorkflowAwaiting   = "awaiting_payment"
	WorkflowSucceeded  = "success"
	WorkflowFailed     = "failed"
)

// WorkflowRecord is the append-only audit trail for one agent workflow,
// usually bound to a scenario. ScenarioID may be empty for standalone
// workflows. The record is the sole source of truth for audit replay.
type WorkflowRecord struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"-"`
	ScenarioID string         `json:"scenario_id,omitempty"`
	Name       string         `json:"name"`
	Steps      []WorkflowStep `json:"steps"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}
