package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/agentvault/internal/crypto"
	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/pkg/models"
)

// tokenAttempts bounds collision re-sampling. With 256-bit tokens a
// collision is already implausible; the loop exists so a colliding value is
// re-drawn rather than silently dropped or overwritten. Issued tokens stay
// reserved forever, so the insert conflict is the only signal needed.
const tokenAttempts = 5

// Service stores payment records encrypted at rest and hands out opaque
// tokens that stand in for them. Plaintext never crosses the service
// boundary: the single full-record read path, RetrieveForCharge, exists for
// the authorization gate and its result must not be persisted or logged.
type Service struct {
	store    storage.Backend
	provider *crypto.Provider
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a vault Service.
func New(store storage.Backend, provider *crypto.Provider, log zerolog.Logger) *Service {
	return &Service{store: store, provider: provider, log: log, now: time.Now}
}

// Store validates, serializes, and encrypts rec, then persists it under a
// fresh unguessable token. The token is the only handle ever returned.
func (s *Service) Store(ctx context.Context, ownerID string, rec *models.PaymentRecord) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("serializing record: %w", err)
	}
	ciphertext, err := s.provider.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypting record: %w", err)
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := crypto.NewToken()
		if err != nil {
			return "", err
		}
		entry := &models.VaultEntry{
			Token:      token,
			OwnerID:    ownerID,
			Ciphertext: ciphertext,
			CreatedAt:  s.now().UTC(),
		}
		err = s.store.CreateVaultEntry(ctx, entry)
		if err == nil {
			s.log.Info().Str("owner_id", ownerID).Msg("vault entry stored")
			return token, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return "", fmt.Errorf("persisting vault entry: %w", err)
		}
	}
	return "", errors.New("token generation: exhausted collision retries")
}

// RetrieveMasked decrypts the entry internally and returns its masked
// projection. Raw values never escape this call's scope.
func (s *Service) RetrieveMasked(ctx context.Context, token, requesterID string) (*models.MaskedRecord, error) {
	rec, err := s.retrieve(ctx, token, requesterID)
	if err != nil {
		return nil, err
	}
	return Mask(rec), nil
}

// RetrieveForCharge returns the full decrypted record. It exists solely for
// the authorization gate's charge decision and is not routed through any
// external surface; the caller must not retain the result past the charge.
func (s *Service) RetrieveForCharge(ctx context.Context, token, requesterID string) (*models.PaymentRecord, error) {
	return s.retrieve(ctx, token, requesterID)
}

// List returns the requester's tokens with creation times, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.VaultEntryInfo, error) {
	infos, err := s.store.ListVaultEntriesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing vault entries: %w", err)
	}
	return infos, nil
}

// RotateAll re-wraps every stored blob under the active key. Entries whose
// blob no longer decrypts are skipped and reported; entries concurrently
// replaced are skipped silently, since the replacement was already written
// under the active key. The operation is idempotent and safe to run while
// normal traffic continues.
func (s *Service) RotateAll(ctx context.Context) (int, error) {
	entries, err := s.store.ListVaultEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing vault entries: %w", err)
	}
	rotated, failed := 0, 0
	for _, entry := range entries {
		plaintext, err := s.provider.Decrypt(entry.Ciphertext)
		if err != nil {
			failed++
			s.log.Error().Str("token", entry.Token).Msg("rotation: blob failed to decrypt under any key")
			continue
		}
		newCiphertext, err := s.provider.Encrypt(plaintext)
		if err != nil {
			return rotated, fmt.Errorf("re-encrypting entry: %w", err)
		}
		err = s.store.RewrapVaultEntry(ctx, entry.Token, entry.Ciphertext, newCiphertext)
		switch {
		case err == nil:
			rotated++
		case errors.Is(err, storage.ErrStaleUpdate), errors.Is(err, storage.ErrNotFound):
			// Replaced or removed mid-rotation; the new blob already uses
			// the active key.
		default:
			return rotated, fmt.Errorf("rewrapping entry: %w", err)
		}
	}
	s.log.Info().Int("rotated", rotated).Int("failed", failed).Msg("key rotation pass finished")
	if failed > 0 {
		return rotated, fmt.Errorf("rotation: %d entries failed to decrypt", failed)
	}
	return rotated, nil
}

func (s *Service) retrieve(ctx context.Context, token, requesterID string) (*models.PaymentRecord, error) {
	entry, err := s.store.GetVaultEntry(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading vault entry: %w", err)
	}
	if entry.OwnerID != requesterID {
		return nil, models.ErrForbidden
	}
	plaintext, err := s.provider.Decrypt(entry.Ciphertext)
	if err != nil {
		// Always logged; surfaced upstream without detail.
		s.log.Error().Str("token", token).Msg("vault blob failed to decrypt under any key")
		return nil, err
	}
	var rec models.PaymentRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("deserializing record: %w", err)
	}
	return &rec, nil
}

func validateRecord(rec *models.PaymentRecord) error {
	required := []struct {
		field string
		value string
	}{
		{"cardholder_name", rec.CardholderName},
		{"card_number", rec.CardNumber},
		{"cvv", rec.CVV},
		{"address_line1", rec.AddressLine1},
		{"city", rec.City},
		{"state", rec.State},
		{"postal_code", rec.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &models.ValidationError{Field: f.field, Reason: "required"}
		}
	}
	if n := len(rec.CardNumber); n < 12 || n > 19 {
		return &models.ValidationError{Field: "card_number", Reason: "must be 12 to 19 digits"}
	}
	return nil
}

// Mask projects rec to its masked view: the card number keeps only its last
// four digits, the street line its first two characters, the postal code
// its last two. City and state pass through; the CVV is dropped entirely.
func Mask(rec *models.PaymentRecord) *models.MaskedRecord {
	return &models.MaskedRecord{
		CardholderName: rec.CardholderName,
		CardNumber:     maskNumber(rec.CardNumber),
		AddressLine1:   maskStreet(rec.AddressLine1),
		City:           rec.City,
		State:          rec.State,
		PostalCode:     "***" + suffix(rec.PostalCode, 2),
	}
}

func maskNumber(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func maskStreet(s string) string {
	if len(s) <= 2 {
		return s + "***"
	}
	return s[:2] + "***"
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
