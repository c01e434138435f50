package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/agentvault/internal/crypto"
	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/internal/vault"
	"github.com/org/agentvault/internal/workflow"
	"github.com/org/agentvault/pkg/models"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *storage.MemoryBackend
	vault  *vault.Service
	wf     *workflow.Logger
	engine *Engine
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	root, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	provider, err := crypto.NewProvider(root)
	require.NoError(t, err)

	store := storage.NewMemoryBackend()
	vaultSvc := vault.New(store, provider, zerolog.Nop())
	wfLog := workflow.New(store)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	engine := New(store, vaultSvc, wfLog, cfg, zerolog.Nop(), opts...)
	return &fixture{store: store, vault: vaultSvc, wf: wfLog, engine: engine}
}

func (f *fixture) storeCard(t *testing.T, ownerID string) string {
	t.Helper()
	token, err := f.vault.Store(context.Background(), ownerID, &models.PaymentRecord{
		CardholderName: "Jordan Smith",
		CardNumber:     "4111111111111111",
		CVV:            "123",
		AddressLine1:   "123 Main St",
		City:           "Springfield",
		State:          "CA",
		PostalCode:     "94105",
	})
	require.NoError(t, err)
	return token
}

// fixedQuote returns a Quoter that always offers the given amount.
func fixedQuote(cents int64) Quoter {
	return func(models.ScenarioKind, int64) int64 { return cents }
}

func dateAt(daysFromNow int) *time.Time {
	d := testNow.AddDate(0, 0, daysFromNow)
	return &d
}

func hotelRequest(token string) CreateRequest {
	return CreateRequest{
		Kind:         models.KindHotel,
		CeilingCents: 20000,
		VaultToken:   token,
		Location:     "Lisbon",
		StartDate:    dateAt(30),
		EndDate:      dateAt(33),
	}
}

func TestCreateValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"unknown kind", func(r *CreateRequest) { r.Kind = "yacht" }, "kind"},
		{"zero ceiling", func(r *CreateRequest) { r.CeilingCents = 0 }, "ceiling_cents"},
		{"negative ceiling", func(r *CreateRequest) { r.CeilingCents = -100 }, "ceiling_cents"},
		{"missing token", func(r *CreateRequest) { r.VaultToken = "" }, "vault_token"},
		{"missing dates", func(r *CreateRequest) { r.StartDate, r.EndDate = nil, nil }, "dates"},
		{"missing end date", func(r *CreateRequest) { r.EndDate = nil }, "dates"},
		{"start in the past", func(r *CreateRequest) { r.StartDate = dateAt(-1) }, "start_date"},
		{"end equals start", func(r *CreateRequest) { r.EndDate = r.StartDate }, "end_date"},
		{"end before start", func(r *CreateRequest) { r.StartDate, r.EndDate = dateAt(10), dateAt(5) }, "end_date"},
		{"beyond horizon", func(r *CreateRequest) { r.StartDate, r.EndDate = dateAt(400), dateAt(401) }, "dates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := hotelRequest(token)
			tt.mutate(&req)
			_, err := f.engine.Create(context.Background(), "user-1", req)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCreateProductNeedsNoDates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(4500)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", CreateRequest{
		Kind:         models.KindProduct,
		CeilingCents: 5000,
		VaultToken:   token,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayment, sc.Status)
	assert.Nil(t, sc.StartDate)
}

func TestCreateVaultTokenChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	otherToken := f.storeCard(t, "user-2")

	_, err := f.engine.Create(context.Background(), "user-1", hotelRequest("pvt_missing"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.engine.Create(context.Background(), "user-1", hotelRequest(otherToken))
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestCreateAwaitingPayment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayment, sc.Status)
	assert.Equal(t, int64(17900), sc.OfferCents)
	assert.Equal(t, "USD", sc.Currency)
	assert.Empty(t, sc.RejectReason)

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "BookHotelUnder200", wf.Name)
	assert.Equal(t, models.WorkflowAwaiting, wf.Status)

	labels := stepLabels(wf)
	assert.Equal(t, []string{"search_performed", "candidate_selected", "constraint_checked", "awaiting_payment"}, labels)
	assert.Contains(t, wf.Steps[1].Detail, "USD 179.00")
}

func TestCreatePriceExceedsCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(25000)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, sc.Status)
	assert.Equal(t, models.ReasonPriceExceedsCeiling, sc.RejectReason)

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, wf.Status)
	labels := stepLabels(wf)
	assert.Equal(t, "rejected", labels[len(labels)-1])
}

func TestCreateOfferEqualToCeilingPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(20000)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayment, sc.Status)
}

func TestCreateRandomUnavailability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 1.0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(10000)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, sc.Status)
	assert.Equal(t, models.ReasonRandomUnavailability, sc.RejectReason)
}

func TestWorkflowNameForProduct(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(4000)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", CreateRequest{
		Kind:         models.KindProduct,
		CeilingCents: 5000,
		VaultToken:   token,
	})
	require.NoError(t, err)

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "BuyProductUnder50", wf.Name)
}

func TestGetAndListOwnership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)

	got, err := f.engine.Get(context.Background(), sc.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sc.ID, got.ID)

	_, err = f.engine.Get(context.Background(), sc.ID, "user-2")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.engine.Get(context.Background(), "no-such-id", "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	mine, err := f.engine.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.engine.List(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func TestAuthorizeApproved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPayment, sc.Status)

	final, err := f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Empty(t, final.RejectReason)

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowSucceeded, wf.Status)
	last := wf.Steps[len(wf.Steps)-1]
	assert.Equal(t, "charged", last.Label)
	assert.Contains(t, last.Detail, "USD 179.00")
	assert.Contains(t, last.Detail, "card ending 1111")
	assert.NotContains(t, last.Detail, "4111111111111111")
}

func TestAuthorizeDeclinedOverCeiling(t *testing.T) {
	// The caller's budget admits the offer, but the charge ceiling does not.
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(25000)))
	token := f.storeCard(t, "user-1")

	req := hotelRequest(token)
	req.CeilingCents = 30000
	sc, err := f.engine.Create(context.Background(), "user-1", req)
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingPayment, sc.Status)

	final, err := f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, final.Status)
	assert.Equal(t, models.ReasonChargeDeclined, final.RejectReason)

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, wf.Status)
	last := wf.Steps[len(wf.Steps)-1]
	assert.Equal(t, "charge_declined", last.Label)
	assert.Contains(t, last.Detail, "USD 250.00")
}

func TestAuthorizeRequiresAwaitingPayment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(25000)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, sc.Status)

	_, err = f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAuthorizeIsNotRepeatable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)

	_, err = f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
	require.NoError(t, err)
	_, err = f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// No second charge step was recorded.
	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLabel(wf, "charged"))
}

func TestAuthorizeWrongOwner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)

	_, err = f.engine.Authorize(context.Background(), sc.ID, token, "user-2")
	assert.ErrorIs(t, err, models.ErrForbidden)

	// The scenario is untouched and still authorizable by its owner.
	got, err := f.engine.Get(context.Background(), sc.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPayment, got.Status)
}

func TestAuthorizeConcurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectProbability = 0
	f := newFixture(t, cfg, WithQuoter(fixedQuote(17900)))
	token := f.storeCard(t, "user-1")

	sc, err := f.engine.Create(context.Background(), "user-1", hotelRequest(token))
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Authorize(context.Background(), sc.ID, token, "user-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one caller finalizes the scenario")

	wf, err := f.wf.ForScenario(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countLabel(wf, "charged"))
}

func TestQuoteOfferDefaultRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 42
	f := newFixture(t, cfg)

	for i := 0; i < 200; i++ {
		offer := f.engine.quoteOffer(models.KindHotel, 20000)
		assert.GreaterOrEqual(t, offer, int64(14000))
		assert.LessOrEqual(t, offer, int64(26000))
	}
}

func stepLabels(wf *models.WorkflowRecord) []string {
	labels := make([]string, len(wf.Steps))
	for i, s := range wf.Steps {
		labels[i] = s.Label
	}
	return labels
}

func countLabel(wf *models.WorkflowRecord, label string) int {
	n := 0
	for _, s := range wf.Steps {
		if s.Label == label {
			n++
		}
	}
	return n
}
