package storage

import (
	"context"
	"errors"

	"github.com/org/agentvault/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on a unique-constraint violation, such as a
// vault token collision.
var ErrAlreadyExists = errors.New("already exists")

// ErrStaleUpdate is returned when a conditional update matched no row
// because its precondition no longer holds.
var ErrStaleUpdate = errors.New("stale update: precondition failed")

// Backend is the persistence interface for vault entries, scenarios, and
// workflow records.
type Backend interface {
	// Vault entries. Immutable once written, except for the ciphertext
	// re-wrap performed during key rotation.
	CreateVaultEntry(ctx context.Context, entry *models.VaultEntry) error
	GetVaultEntry(ctx context.Context, token string) (*models.VaultEntry, error)
	ListVaultEntries(ctx context.Context) ([]*models.VaultEntry, error)
	ListVaultEntriesByOwner(ctx context.Context, ownerID string) ([]*models.VaultEntryInfo, error)
	// RewrapVaultEntry replaces an entry's ciphertext only if it still
	// equals oldCiphertext. Returns ErrStaleUpdate when the blob changed
	// underneath the caller.
	RewrapVaultEntry(ctx context.Context, token string, oldCiphertext, newCiphertext []byte) error

	// Scenarios.
	CreateScenario(ctx context.Context, sc *models.Scenario) error
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	ListScenariosByOwner(ctx context.Context, ownerID string) ([]*models.Scenario, error)
	// TransitionScenario performs a compare-and-swap on status: the update
	// applies only while the current status equals from. Returns
	// ErrStaleUpdate when the precondition fails and ErrNotFound when the
	// scenario does not exist. This is the sole mutation path for
	// scenarios, which makes every transition atomic.
	TransitionScenario(ctx context.Context, id string, from, to models.ScenarioStatus, offerCents int64, reason string) error

	// Workflow records. Steps are append-only; insertion order is the
	// audit order.
	CreateWorkflow(ctx context.Context, wf *models.WorkflowRecord) error
	AppendWorkflowStep(ctx context.Context, workflowID string, step models.WorkflowStep) error
	SetWorkflowStatus(ctx context.Context, workflowID, status string) error
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error)
	GetWorkflowByScenario(ctx context.Context, scenarioID string) (*models.WorkflowRecord, error)
	ListWorkflowsByOwner(ctx context.Context, ownerID string) ([]*models.WorkflowRecord, error)

	// Metrics helpers.
	CountVaultEntries(ctx context.Context) (int64, error)
	CountScenariosByStatus(ctx context.Context) (map[models.ScenarioStatus]int64, error)

	// Lifecycle.
	Close()
}
