package models

import "time"

// PaymentRecord is the structured plaintext held by the vault. It exists
// only transiently in memory; at rest it is an opaque authenticated blob.
type PaymentRecord struct {
	CardholderName string `json:"cardholder_name"`
	CardNumber     string `json:"card_number"`
	CVV            string `json:"cvv"`
	AddressLine1   string `json:"address_line1"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
}

// MaskedRecord is the only projection of a PaymentRecord that leaves the
// vault service: card number reduced to its last four digits, street line
// and postal code truncated. The CVV is never present in any projection.
type MaskedRecord struct {
	CardholderName string `json:"cardholder_name"`
	CardNumber     string `json:"card_number"`
	AddressLine1   string `json:"address_line1"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
}

// VaultEntry is one stored payment record, keyed by its opaque token.
// Entries are immutable once written except for the ciphertext re-wrap
// performed by the key-rotation batch job.
type VaultEntry struct {
	Token      string
	OwnerID    string
	Ciphertext []byte
	CreatedAt  time.Time
}

// VaultEntryInfo is the listing projection of an entry: token and creation
// time only, no payload in any form.
type VaultEntryInfo struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
