package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/agentvault/pkg/models"
)

// uniqueViolation is the Postgres error code for unique-constraint failures.
const uniqueViolation = "23505"

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Vault entries ---

func (p *PostgresBackend) CreateVaultEntry(ctx context.Context, entry *models.VaultEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vault_entries (token, owner_id, ciphertext, created_at)
		 VALUES ($1, $2, $3, $4)`,
		entry.Token, entry.OwnerID, entry.Ciphertext, entry.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) GetVaultEntry(ctx context.Context, token string) (*models.VaultEntry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT token, owner_id, ciphertext, created_at FROM vault_entries WHERE token = $1`,
		token,
	)
	var e models.VaultEntry
	if err := row.Scan(&e.Token, &e.OwnerID, &e.Ciphertext, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (p *PostgresBackend) ListVaultEntries(ctx context.Context) ([]*models.VaultEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT token, owner_id, ciphertext, created_at FROM vault_entries ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*models.VaultEntry
	for rows.Next() {
		var e models.VaultEntry
		if err := rows.Scan(&e.Token, &e.OwnerID, &e.Ciphertext, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (p *PostgresBackend) ListVaultEntriesByOwner(ctx context.Context, ownerID string) ([]*models.VaultEntryInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT token, created_at FROM vault_entries WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var infos []*models.VaultEntryInfo
	for rows.Next() {
		var info models.VaultEntryInfo
		if err := rows.Scan(&info.Token, &info.CreatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}
	return infos, rows.Err()
}

func (p *PostgresBackend) RewrapVaultEntry(ctx context.Context, token string, oldCiphertext, newCiphertext []byte) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE vault_entries SET ciphertext = $3 WHERE token = $1 AND ciphertext = $2`,
		token, oldCiphertext, newCiphertext,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.staleOrMissing(ctx, `SELECT 1 FROM vault_entries WHERE token = $1`, token)
	}
	return nil
}

// --- Scenarios ---

func (p *PostgresBackend) CreateScenario(ctx context.Context, sc *models.Scenario) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO scenarios
		   (id, owner_id, kind, ceiling_cents, currency, offer_cents, status,
		    reject_reason, vault_token, location, start_date, end_date,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sc.ID, sc.OwnerID, sc.Kind, sc.CeilingCents, sc.Currency, sc.OfferCents,
		sc.Status, sc.RejectReason, sc.VaultToken, sc.Location,
		sc.StartDate, sc.EndDate, sc.CreatedAt, sc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, kind, ceiling_cents, currency, offer_cents, status,
		        reject_reason, vault_token, location, start_date, end_date,
		        created_at, updated_at
		 FROM scenarios WHERE id = $1`,
		id,
	)
	return scanScenario(row)
}

func (p *PostgresBackend) ListScenariosByOwner(ctx context.Context, ownerID string) ([]*models.Scenario, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, owner_id, kind, ceiling_cents, currency, offer_cents, status,
		        reject_reason, vault_token, location, start_date, end_date,
		        created_at, updated_at
		 FROM scenarios WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scenarios []*models.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

func scanScenario(row pgx.Row) (*models.Scenario, error) {
	var sc models.Scenario
	err := row.Scan(&sc.ID, &sc.OwnerID, &sc.Kind, &sc.CeilingCents, &sc.Currency,
		&sc.OfferCents, &sc.Status, &sc.RejectReason, &sc.VaultToken, &sc.Location,
		&sc.StartDate, &sc.EndDate, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}

func (p *PostgresBackend) TransitionScenario(ctx context.Context, id string, from, to models.ScenarioStatus, offerCents int64, reason string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE scenarios
		 SET status = $3, offer_cents = $4, reject_reason = $5, updated_at = $6
		 WHERE id = $1 AND status = $2`,
		id, from, to, offerCents, reason, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.staleOrMissing(ctx, `SELECT 1 FROM scenarios WHERE id = $1`, id)
	}
	return nil
}

// staleOrMissing distinguishes a failed precondition from a missing row.
func (p *PostgresBackend) staleOrMissing(ctx context.Context, existsQuery, id string) error {
	var one int
	err := p.pool.QueryRow(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleUpdate
}

// --- Workflow records ---

func (p *PostgresBackend) CreateWorkflow(ctx context.Context, wf *models.WorkflowRecord) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshaling workflow steps: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO workflows (id, owner_id, scenario_id, name, steps, status, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		wf.ID, wf.OwnerID, wf.ScenarioID, wf.Name, stepsJSON, wf.Status, wf.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresBackend) AppendWorkflowStep(ctx context.Context, workflowID string, step models.WorkflowStep) error {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshaling workflow step: %w", err)
	}
	// JSONB concatenation appends in place, so the insert order is the
	// stored order even under concurrent writers.
	tag, err := p.pool.Exec(ctx,
		`UPDATE workflows SET steps = steps || $2::jsonb WHERE id = $1`,
		workflowID, stepJSON,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) SetWorkflowStatus(ctx context.Context, workflowID, status string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE workflows SET status = $2 WHERE id = $1`,
		workflowID, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, COALESCE(scenario_id::text, ''), name, steps, status, created_at
		 FROM workflows WHERE id = $1`,
		id,
	)
	return scanWorkflow(row)
}

func (p *PostgresBackend) GetWorkflowByScenario(ctx context.Context, scenarioID string) (*models.WorkflowRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, COALESCE(scenario_id::text, ''), name, steps, status, created_at
		 FROM workflows WHERE scenario_id = $1`,
		scenarioID,
	)
	return scanWorkflow(row)
}

func (p *PostgresBackend) ListWorkflowsByOwner(ctx context.Context, ownerID string) ([]*models.WorkflowRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, owner_id, COALESCE(scenario_id::text, ''), name, steps, status, created_at
		 FROM workflows WHERE owner_id = $1 ORDER BY created_at`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*models.WorkflowRecord
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, wf)
	}
	return records, rows.Err()
}

func scanWorkflow(row pgx.Row) (*models.WorkflowRecord, error) {
	var wf models.WorkflowRecord
	var stepsJSON []byte
	err := row.Scan(&wf.ID, &wf.OwnerID, &wf.ScenarioID, &wf.Name, &stepsJSON, &wf.Status, &wf.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow steps: %w", err)
	}
	return &wf, nil
}

// --- Metrics ---

func (p *PostgresBackend) CountVaultEntries(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vault_entries`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountScenariosByStatus(ctx context.Context) (map[models.ScenarioStatus]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT status, COUNT(*) FROM scenarios GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.ScenarioStatus]int64)
	for rows.Next() {
		var status models.ScenarioStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
