package vault

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/agentvault/internal/crypto"
	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/pkg/models"
)

func testRecord() *models.PaymentRecord {
	return &models.PaymentRecord{
		CardholderName: "Jordan Smith",
		CardNumber:     "4111111111111111",
		CVV:            "123",
		AddressLine1:   "123 Main St",
		City:           "Springfield",
		State:          "CA",
		PostalCode:     "94105",
	}
}

func newTestService(t *testing.T) (*Service, storage.Backend) {
	t.Helper()
	root, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	provider, err := crypto.NewProvider(root)
	require.NoError(t, err)
	store := storage.NewMemoryBackend()
	return New(store, provider, zerolog.Nop()), store
}

func TestStoreReturnsOpaqueToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.Store(context.Background(), "user-1", testRecord())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, crypto.TokenPrefix))
	assert.NotContains(t, token, "4111")

	token2, err := svc.Store(context.Background(), "user-1", testRecord())
	require.NoError(t, err)
	assert.NotEqual(t, token, token2, "identical records must get distinct tokens")
}

func TestStoreValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.PaymentRecord)
		field  string
	}{
		{"missing cardholder", func(r *models.PaymentRecord) { r.CardholderName = "" }, "cardholder_name"},
		{"blank cvv", func(r *models.PaymentRecord) { r.CVV = "   " }, "cvv"},
		{"missing city", func(r *models.PaymentRecord) { r.City = "" }, "city"},
		{"card too short", func(r *models.PaymentRecord) { r.CardNumber = "41111111111" }, "card_number"},
		{"card too long", func(r *models.PaymentRecord) { r.CardNumber = strings.Repeat("4", 20) }, "card_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord()
			tt.mutate(rec)
			_, err := svc.Store(ctx, "user-1", rec)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRetrieveMasked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.Store(ctx, "user-1", testRecord())
	require.NoError(t, err)

	masked, err := svc.RetrieveMasked(ctx, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Smith", masked.CardholderName)
	assert.Equal(t, "************1111", masked.CardNumber)
	assert.Equal(t, "12***", masked.AddressLine1)
	assert.Equal(t, "Springfield", masked.City)
	assert.Equal(t, "CA", masked.State)
	assert.Equal(t, "***05", masked.PostalCode)
}

func TestRetrieveMaskedUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RetrieveMasked(context.Background(), "pvt_doesnotexist", "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRetrieveMaskedWrongOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.Store(ctx, "user-1", testRecord())
	require.NoError(t, err)

	_, err = svc.RetrieveMasked(ctx, token, "user-2")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestRetrieveForCharge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.Store(ctx, "user-1", testRecord())
	require.NoError(t, err)

	rec, err := svc.RetrieveForCharge(ctx, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", rec.CardNumber)
	assert.Equal(t, "123", rec.CVV)

	_, err = svc.RetrieveForCharge(ctx, token, "user-2")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Control creation times so ordering is observable.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)}
	i := 0
	svc.now = func() time.Time { t := times[i]; i++; return t }

	var tokens []string
	for range times {
		tok, err := svc.Store(ctx, "user-1", testRecord())
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}
	// Another user's entries must not appear.
	svc.now = time.Now
	_, err := svc.Store(ctx, "user-2", testRecord())
	require.NoError(t, err)

	infos, err := svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, tokens[2], infos[0].Token)
	assert.Equal(t, tokens[1], infos[1].Token)
	assert.Equal(t, tokens[0], infos[2].Token)
}

func TestRotateAll(t *testing.T) {
	ctx := context.Background()
	oldRoot, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	newRoot, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	store := storage.NewMemoryBackend()

	oldProvider, err := crypto.NewProvider(oldRoot)
	require.NoError(t, err)
	oldSvc := New(store, oldProvider, zerolog.Nop())
	token, err := oldSvc.Store(ctx, "user-1", testRecord())
	require.NoError(t, err)

	// Rotate with the old root demoted to historical.
	rotatedProvider, err := crypto.NewProvider(newRoot, oldRoot)
	require.NoError(t, err)
	rotSvc := New(store, rotatedProvider, zerolog.Nop())
	n, err := rotSvc.RotateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// After rotation the blob decrypts under the new key alone.
	newProvider, err := crypto.NewProvider(newRoot)
	require.NoError(t, err)
	newSvc := New(store, newProvider, zerolog.Nop())
	masked, err := newSvc.RetrieveMasked(ctx, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "************1111", masked.CardNumber)
}

func TestRotateAllReportsUndecryptable(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.Store(ctx, "user-1", testRecord())
	require.NoError(t, err)

	// An entry written under a key this provider has never seen.
	strayRoot, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	strayProvider, err := crypto.NewProvider(strayRoot)
	require.NoError(t, err)
	blob, err := strayProvider.Encrypt([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.CreateVaultEntry(ctx, &models.VaultEntry{
		Token:      "pvt_stray",
		OwnerID:    "user-1",
		Ciphertext: blob,
		CreatedAt:  time.Now().UTC(),
	}))

	n, err := svc.RotateAll(ctx)
	assert.Equal(t, 1, n, "the readable entry still rotates")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 entries failed to decrypt")
}

func TestMaskShortValues(t *testing.T) {
	rec := &models.PaymentRecord{
		CardholderName: "A",
		CardNumber:     "4242",
		CVV:            "000",
		AddressLine1:   "7a",
		City:           "X",
		State:          "Y",
		PostalCode:     "12",
	}
	masked := Mask(rec)
	assert.Equal(t, "****", masked.CardNumber)
	assert.Equal(t, "7a***", masked.AddressLine1)
	assert.Equal(t, "***12", masked.PostalCode)
}
