package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/agentvault/internal/storage"
	"github.com/org/agentvault/pkg/models"
)

// Authorize is the two-phase commit point. It checks the state
// precondition and ownership, decrypts the referenced payment record in
// memory only, runs the mock charge against the recorded offer, and moves
// the scenario to its terminal state. The status compare-and-swap makes
// concurrent calls race safely: exactly one caller finalizes the scenario,
// the rest fail with ErrInvalidTransition, and a call against an already
// terminal scenario fails the same way instead of re-charging.
func (e *Engine) Authorize(ctx context.Context, scenarioID, vaultToken, requesterID string) (*models.Scenario, error) {
	sc, err := e.store.GetScenario(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	if sc.Status != models.StatusAwaitingPayment {
		return nil, fmt.Errorf("%w: authorize requires awaiting_payment, scenario is %s",
			models.ErrInvalidTransition, sc.Status)
	}
	if sc.OwnerID != requesterID {
		return nil, models.ErrForbidden
	}

	// Raw payment data exists only inside this call. It is never persisted
	// or logged; only the card's last four digits survive in the audit
	// trail. NotFound/Forbidden from the vault propagate unchanged.
	rec, err := e.vault.RetrieveForCharge(ctx, vaultToken, requesterID)
	if err != nil {
		return nil, err
	}

	// Mock charge: deterministic stand-in for a payment-service-provider
	// risk check. Approves iff the recorded amount is at or under the
	// fixed ceiling.
	approved := sc.OfferCents <= e.cfg.ChargeCeilingCents

	to := models.StatusCompleted
	reason := ""
	if !approved {
		to, reason = models.StatusRejected, models.ReasonChargeDeclined
	}

	if err := e.store.TransitionScenario(ctx, sc.ID, models.StatusAwaitingPayment, to, sc.OfferCents, reason); err != nil {
		if errors.Is(err, storage.ErrStaleUpdate) {
			return nil, fmt.Errorf("%w: scenario already finalized", models.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("finalizing scenario: %w", err)
	}
	sc.Status, sc.RejectReason = to, reason
	sc.UpdatedAt = e.now().UTC()

	wf, err := e.wf.ForScenario(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	if approved {
		detail := fmt.Sprintf("approved %s using card ending %s",
			money(sc.OfferCents, sc.Currency), lastFour(rec.CardNumber))
		if err := e.wf.Append(ctx, wf.ID, "charged", detail); err != nil {
			return nil, err
		}
		if err := e.wf.Finish(ctx, wf.ID, models.WorkflowSucceeded); err != nil {
			return nil, err
		}
	} else {
		detail := fmt.Sprintf("amount %s exceeds the %s authorization ceiling",
			money(sc.OfferCents, sc.Currency), money(e.cfg.ChargeCeilingCents, sc.Currency))
		if err := e.wf.Append(ctx, wf.ID, "charge_declined", detail); err != nil {
			return nil, err
		}
		if err := e.wf.Finish(ctx, wf.ID, models.WorkflowFailed); err != nil {
			return nil, err
		}
	}

	e.log.Info().
		Str("scenario_id", sc.ID).
		Bool("approved", approved).
		Int64("amount_cents", sc.OfferCents).
		Msg("charge decision")
	return sc, nil
}

func lastFour(cardNumber string) string {
	if len(cardNumber) <= 4 {
		return cardNumber
	}
	return cardNumber[len(cardNumber)-4:]
}
