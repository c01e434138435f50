package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/internal/vault"
	"github.com/org/agentvault/internal/workflow"
	"github.com/org/agentvault/pkg/models"
)

// Config holds the engine's policy knobs.
type Config struct {
	// ChargeCeilingCents is the fixed demo authorization ceiling: the mock
	// charge approves iff the recorded offer is at or under it.
	ChargeCeilingCents int64
	// RejectProbability models unavailability or agent failure discovered
	// during market search, applied independently of the price check.
	RejectProbability float64
	// MaxDateHorizon bounds how far in the future hotel and flight dates
	// may fall.
	MaxDateHorizon time.Duration
	// Seed seeds the simulation's random source; zero means a random seed.
	Seed uint64
}

// DefaultConfig returns the stock policy: 200.00-unit charge ceiling, 30%
// unavailability, one-year booking horizon.
func DefaultConfig() Config {
	return Config{
		ChargeCeilingCents: 20000,
		RejectProbability:  0.30,
		MaxDateHorizon:     365 * 24 * time.Hour,
	}
}

// Quoter simulates market price discovery for a scenario kind.
type Quoter func(kind models.ScenarioKind, ceilingCents int64) int64

// Engine drives the scenario lifecycle: market search and the policy
// decision at creation, then the two-phase authorization gate. Every status
// change goes through the storage layer's compare-and-swap, so transitions
// are atomic and monotonic even under concurrent callers.
type Engine struct {
	store storage.Backend
	vault *vault.Service
	wf    *workflow.Logger
	cfg   Config
	log   zerolog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	quote Quoter
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithQuoter replaces the market-price simulation. Tests use this to force
// a specific offer.
func WithQuoter(q Quoter) Option {
	return func(e *Engine) { e.quote = q }
}

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. The random source is seeded from cfg.Seed, or
// from entropy when the seed is zero.
func New(store storage.Backend, vaultSvc *vault.Service, wfLog *workflow.Logger, cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	e := &Engine{
		store: store,
		vault: vaultSvc,
		wf:    wfLog,
		cfg:   cfg,
		log:   log,
		rng:   rand.New(rand.NewPCG(seed, seed)),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRequest is the caller's proposed agent action.
type CreateRequest struct {
	Kind         models.ScenarioKind
	CeilingCents int64
	Currency     string
	VaultToken   string
	Location     string
	StartDate    *time.Time
	EndDate      *time.Time
}

// Create validates the request, runs the market-price simulation, applies
// the price and availability policies, and leaves the scenario in
// awaiting_payment or rejected. Every sub-action is appended to the
// scenario's workflow record in the order it happened.
func (e *Engine) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Scenario, error) {
	if err := e.validateCreate(req); err != nil {
		return nil, err
	}

	// The referenced token must exist and belong to the caller before any
	// work happens. Existence is checked without decrypting.
	entry, err := e.store.GetVaultEntry(ctx, req.VaultToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("checking vault token: %w", err)
	}
	if entry.OwnerID != ownerID {
		return nil, models.ErrForbidden
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	now := e.now().UTC()
	sc := &models.Scenario{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Kind:         req.Kind,
		CeilingCents: req.CeilingCents,
		Currency:     currency,
		Status:       models.StatusCreated,
		VaultToken:   req.VaultToken,
		Location:     req.Location,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateScenario(ctx, sc); err != nil {
		return nil, fmt.Errorf("persisting scenario: %w", err)
	}

	wf, err := e.wf.Begin(ctx, ownerID, sc.ID, workflowName(req.Kind, req.CeilingCents))
	if err != nil {
		return nil, err
	}
	step := func(label, detail string) error {
		return e.wf.Append(ctx, wf.ID, label, detail)
	}

	if err := step("search_performed", fmt.Sprintf("market search: %s under %s", sc.Kind, money(sc.CeilingCents, currency))); err != nil {
		return nil, err
	}

	offer := e.quoteOffer(req.Kind, req.CeilingCents)
	if err := step("candidate_selected", fmt.Sprintf("offer at %s", money(offer, currency))); err != nil {
		return nil, err
	}
	if err := step("constraint_checked", fmt.Sprintf("ceiling %s, offer %s", money(sc.CeilingCents, currency), money(offer, currency))); err != nil {
		return nil, err
	}

	// Policy decision. The price comparison is inclusive: an offer equal
	// to the ceiling passes. The unavailability draw happens only when the
	// price is acceptable, so each rejection carries its own reason code.
	to := models.StatusAwaitingPayment
	reason := ""
	switch {
	case offer > req.CeilingCents:
		to, reason = models.StatusRejected, models.ReasonPriceExceedsCeiling
	case e.drawUnavailable():
		to, reason = models.StatusRejected, models.ReasonRandomUnavailability
	}

	if err := e.store.TransitionScenario(ctx, sc.ID, models.StatusCreated, to, offer, reason); err != nil {
		if errors.Is(err, storage.ErrStaleUpdate) {
			return nil, models.ErrInvalidTransition
		}
		return nil, fmt.Errorf("recording market decision: %w", err)
	}
	sc.Status, sc.OfferCents, sc.RejectReason = to, offer, reason

	if to == models.StatusRejected {
		if err := step("rejected", reason); err != nil {
			return nil, err
		}
		if err := e.wf.Finish(ctx, wf.ID, models.WorkflowFailed); err != nil {
			return nil, err
		}
	} else {
		if err := step("awaiting_payment", fmt.Sprintf("authorization requested for %s", money(offer, currency))); err != nil {
			return nil, err
		}
		if err := e.wf.Finish(ctx, wf.ID, models.WorkflowAwaiting); err != nil {
			return nil, err
		}
	}

	e.log.Info().
		Str("scenario_id", sc.ID).
		Str("kind", string(sc.Kind)).
		Str("status", string(sc.Status)).
		Int64("offer_cents", offer).
		Msg("scenario created")
	return sc, nil
}

// Get returns a scenario if the requester owns it.
func (e *Engine) Get(ctx context.Context, scenarioID, requesterID string) (*models.Scenario, error) {
	sc, err := e.store.GetScenario(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	if sc.OwnerID != requesterID {
		return nil, models.ErrForbidden
	}
	return sc, nil
}

// List returns the requester's scenarios, newest first.
func (e *Engine) List(ctx context.Context, ownerID string) ([]*models.Scenario, error) {
	scenarios, err := e.store.ListScenariosByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	return scenarios, nil
}

func (e *Engine) validateCreate(req CreateRequest) error {
	if !req.Kind.Valid() {
		return &models.ValidationError{Field: "kind", Reason: "must be product, hotel, or flight"}
	}
	if req.CeilingCents <= 0 {
		return &models.ValidationError{Field: "ceiling_cents", Reason: "must be positive"}
	}
	if req.VaultToken == "" {
		return &models.ValidationError{Field: "vault_token", Reason: "required"}
	}
	switch req.Kind {
	case models.KindHotel, models.KindFlight:
		return e.validateDates(req.StartDate, req.EndDate)
	}
	return nil
}

// validateDates enforces the booking window policy: both dates present,
// neither in the past, the second strictly after the first, and both within
// the configured horizon of today.
func (e *Engine) validateDates(start, end *time.Time) error {
	if start == nil || end == nil {
		return &models.ValidationError{Field: "dates", Reason: "start and end dates are required"}
	}
	today := truncateDay(e.now().UTC())
	horizon := today.Add(e.cfg.MaxDateHorizon)
	s, en := truncateDay(*start), truncateDay(*end)
	if s.Before(today) {
		return &models.ValidationError{Field: "start_date", Reason: "must not be in the past"}
	}
	if !en.After(s) {
		return &models.ValidationError{Field: "end_date", Reason: "must be after start_date"}
	}
	if s.After(horizon) || en.After(horizon) {
		return &models.ValidationError{Field: "dates", Reason: "must fall within one year of today"}
	}
	return nil
}

// quoteOffer draws an offer between 70% and 130% of the ceiling unless a
// custom Quoter is installed, so demo traffic exercises both acceptance and
// price rejection.
func (e *Engine) quoteOffer(kind models.ScenarioKind, ceilingCents int64) int64 {
	if e.quote != nil {
		return e.quote(kind, ceilingCents)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pct := 70 + e.rng.Int64N(61)
	offer := ceilingCents * pct / 100
	if offer < 1 {
		offer = 1
	}
	return offer
}

func (e *Engine) drawUnavailable() bool {
	if e.cfg.RejectProbability <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64() < e.cfg.RejectProbability
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// money formats cents for workflow details, e.g. "USD 179.00".
func money(cents int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, cents/100, cents%100)
}

func workflowName(kind models.ScenarioKind, ceilingCents int64) string {
	verb := "Book"
	if kind == models.KindProduct {
		verb = "Buy"
	}
	return fmt.Sprintf("%s%sUnder%d", verb, titleCase(string(kind)), ceilingCents/100)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
