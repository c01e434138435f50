package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/org/agentvault/pkg/models"
)

// MemoryBackend is an in-memory Backend used as the dev-mode store and by
// tests. It honors the same conditional-update semantics as the Postgres
// backend: transitions are compare-and-swap under a single lock.
type MemoryBackend struct {
	mu        sync.Mutex
	vault     map[string]*models.VaultEntry
	scenarios map[string]*models.Scenario
	workflows map[string]*models.WorkflowRecord
	wfOrder   []string // creation order for deterministic listing
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		vault:     make(map[string]*models.VaultEntry),
		scenarios: make(map[string]*models.Scenario),
		workflows: make(map[string]*models.WorkflowRecord),
	}
}

func (m *MemoryBackend) Close() {}

// --- Vault entries ---

func (m *MemoryBackend) CreateVaultEntry(ctx context.Context, entry *models.VaultEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vault[entry.Token]; ok {
		return ErrAlreadyExists
	}
	m.vault[entry.Token] = copyVaultEntry(entry)
	return nil
}

func (m *MemoryBackend) GetVaultEntry(ctx context.Context, token string) (*models.VaultEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.vault[token]
	if !ok {
		return nil, ErrNotFound
	}
	return copyVaultEntry(entry), nil
}

func (m *MemoryBackend) ListVaultEntries(ctx context.Context) ([]*models.VaultEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*models.VaultEntry, 0, len(m.vault))
	for _, e := range m.vault {
		entries = append(entries, copyVaultEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *MemoryBackend) ListVaultEntriesByOwner(ctx context.Context, ownerID string) ([]*models.VaultEntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []*models.VaultEntryInfo
	for _, e := range m.vault {
		if e.OwnerID == ownerID {
			infos = append(infos, &models.VaultEntryInfo{Token: e.Token, CreatedAt: e.CreatedAt})
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

func (m *MemoryBackend) RewrapVaultEntry(ctx context.Context, token string, oldCiphertext, newCiphertext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.vault[token]
	if !ok {
		return ErrNotFound
	}
	if !bytes.Equal(entry.Ciphertext, oldCiphertext) {
		return ErrStaleUpdate
	}
	entry.Ciphertext = append([]byte(nil), newCiphertext...)
	return nil
}

// --- Scenarios ---

func (m *MemoryBackend) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[sc.ID]; ok {
		return ErrAlreadyExists
	}
	m.scenarios[sc.ID] = copyScenario(sc)
	return nil
}

func (m *MemoryBackend) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyScenario(sc), nil
}

func (m *MemoryBackend) ListScenariosByOwner(ctx context.Context, ownerID string) ([]*models.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var scenarios []*models.Scenario
	for _, sc := range m.scenarios {
		if sc.OwnerID == ownerID {
			scenarios = append(scenarios, copyScenario(sc))
		}
	}
	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].CreatedAt.After(scenarios[j].CreatedAt)
	})
	return scenarios, nil
}

func (m *MemoryBackend) TransitionScenario(ctx context.Context, id string, from, to models.ScenarioStatus, offerCents int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenarios[id]
	if !ok {
		return ErrNotFound
	}
	if sc.Status != from {
		return ErrStaleUpdate
	}
	sc.Status = to
	sc.OfferCents = offerCents
	sc.RejectReason = reason
	return nil
}

// --- Workflow records ---

func (m *MemoryBackend) CreateWorkflow(ctx context.Context, wf *models.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return ErrAlreadyExists
	}
	m.workflows[wf.ID] = copyWorkflow(wf)
	m.wfOrder = append(m.wfOrder, wf.ID)
	return nil
}

func (m *MemoryBackend) AppendWorkflowStep(ctx context.Context, workflowID string, step models.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}
	wf.Steps = append(wf.Steps, step)
	return nil
}

func (m *MemoryBackend) SetWorkflowStatus(ctx context.Context, workflowID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}
	wf.Status = status
	return nil
}

func (m *MemoryBackend) GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(wf), nil
}

func (m *MemoryBackend) GetWorkflowByScenario(ctx context.Context, scenarioID string) (*models.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ScenarioID == scenarioID {
			return copyWorkflow(wf), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) ListWorkflowsByOwner(ctx context.Context, ownerID string) ([]*models.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*models.WorkflowRecord
	for _, id := range m.wfOrder {
		if wf := m.workflows[id]; wf.OwnerID == ownerID {
			records = append(records, copyWorkflow(wf))
		}
	}
	return records, nil
}

// --- Metrics ---

func (m *MemoryBackend) CountVaultEntries(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.vault)), nil
}

func (m *MemoryBackend) CountScenariosByStatus(ctx context.Context) (map[models.ScenarioStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.ScenarioStatus]int64)
	for _, sc := range m.scenarios {
		counts[sc.Status]++
	}
	return counts, nil
}

// Copies keep callers from mutating stored state through shared pointers.

func copyVaultEntry(e *models.VaultEntry) *models.VaultEntry {
	cp := *e
	cp.Ciphertext = append([]byte(nil), e.Ciphertext...)
	return &cp
}

func copyScenario(sc *models.Scenario) *models.Scenario {
	cp := *sc
	if sc.StartDate != nil {
		d := *sc.StartDate
		cp.StartDate = &d
	}
	if sc.EndDate != nil {
		d := *sc.EndDate
		cp.EndDate = &d
	}
	return &cp
}

func copyWorkflow(wf *models.WorkflowRecord) *models.WorkflowRecord {
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	return &cp
}
