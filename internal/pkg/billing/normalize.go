package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

func normalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return models.PaymentProviderManual
	}
	return p
}

// normalizeOutcome folds provider wording into success or failure. Any
// other wording, such as "pending", is not a settled outcome and reports
// false.
func normalizeOutcome(outcome string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "success", "succeeded", "paid", "complete", "completed":
		return models.PaymentOutcomeSuccess, true
	case "failure", "failed", "declined", "canceled", "cancelled", "expired":
		return models.PaymentOutcomeFailure, true
	default:
		return "", false
	}
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// eventKey returns the provider transaction id, falling back to a payload
// hash so retried deliveries without an id still collapse.
func eventKey(txnID, payload string) string {
	if id := strings.TrimSpace(txnID); id != "" {
		return id
	}
	if payload == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(payload))
	return "hash:" + hex.EncodeToString(sum[:])
}

func normalizeEvent(ev PaymentEvent) (PaymentEvent, error) {
	outcome, ok := normalizeOutcome(ev.Outcome)
	if !ok {
		return ev, fmt.Errorf("%w: unsupported payment outcome %q", apperr.ErrInvalidInput, ev.Outcome)
	}
	ev.Outcome = outcome
	ev.Provider = normalizeProvider(ev.Provider)
	ev.Currency = normalizeCurrency(ev.Currency)
	ev.IntentRef = strings.TrimSpace(ev.IntentRef)
	ev.ProviderTxnID = eventKey(ev.ProviderTxnID, ev.PayloadJSON)
	return ev, nil
}
