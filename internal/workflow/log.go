package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/pkg/models"
)

// Logger records each agent step as it is taken. The stored step order is
// the audit order; steps are never updated, reordered, or deleted, and the
// resulting record is the sole source of truth for replaying a workflow.
type Logger struct {
	store storage.Backend
	now   func() time.Time
}

// New creates a workflow Logger.
func New(store storage.Backend) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Begin opens a workflow record. scenarioID may be empty for standalone
// workflows not bound to a scenario.
func (l *Logger) Begin(ctx context.Context, ownerID, scenarioID, name string) (*models.WorkflowRecord, error) {
	wf := &models.WorkflowRecord{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		ScenarioID: scenarioID,
		Name:       name,
		Steps:      []models.WorkflowStep{},
		Status:     models.WorkflowInProgress,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("creating workflow record: %w", err)
	}
	return wf, nil
}

// Append atomically records one step at the end of the workflow.
func (l *Logger) Append(ctx context.Context, workflowID, label, detail string) error {
	step := models.WorkflowStep{Label: label, Detail: detail, Timestamp: l.now().UTC()}
	if err := l.store.AppendWorkflowStep(ctx, workflowID, step); err != nil {
		return fmt.Errorf("appending workflow step: %w", err)
	}
	return nil
}

// Finish sets the workflow's summary status, mirroring the associated
// scenario's outcome.
func (l *Logger) Finish(ctx context.Context, workflowID, status string) error {
	if err := l.store.SetWorkflowStatus(ctx, workflowID, status); err != nil {
		return fmt.Errorf("updating workflow status: %w", err)
	}
	return nil
}

// ForScenario returns the workflow record bound to a scenario.
func (l *Logger) ForScenario(ctx context.Context, scenarioID string) (*models.WorkflowRecord, error) {
	wf, err := l.store.GetWorkflowByScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow for scenario: %w", err)
	}
	return wf, nil
}

// ListByOwner returns the requester's workflow records in creation order.
func (l *Logger) ListByOwner(ctx context.Context, ownerID string) ([]*models.WorkflowRecord, error) {
	records, err := l.store.ListWorkflowsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	return records, nil
}
