package billing

import (
	"strings"
	"testing"

	"github.com/ManuelReschke/AcademyPlans/app/models"
)

func TestNormalizeOutcome(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "success", want: models.PaymentOutcomeSuccess, ok: true},
		{in: "SUCCEEDED", want: models.PaymentOutcomeSuccess, ok: true},
		{in: " paid ", want: models.PaymentOutcomeSuccess, ok: true},
		{in: "complete", want: models.PaymentOutcomeSuccess, ok: true},
		{in: "failure", want: models.PaymentOutcomeFailure, ok: true},
		{in: "declined", want: models.PaymentOutcomeFailure, ok: true},
		{in: "Cancelled", want: models.PaymentOutcomeFailure, ok: true},
		{in: "processing", ok: false},
		{in: "pending", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := normalizeOutcome(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("normalizeOutcome(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeProvider(t *testing.T) {
	if got := normalizeProvider(" Stripe "); got != models.PaymentProviderStripe {
		t.Fatalf("expected stripe, got %q", got)
	}
	if got := normalizeProvider(""); got != models.PaymentProviderManual {
		t.Fatalf("expected empty provider to default to manual, got %q", got)
	}
}

func TestEventKey(t *testing.T) {
	if got := eventKey(" txn_1 ", "{}"); got != "txn_1" {
		t.Fatalf("expected explicit txn id, got %q", got)
	}
	a := eventKey("", `{"a":1}`)
	b := eventKey("", `{"a":1}`)
	if a != b || !strings.HasPrefix(a, "hash:") {
		t.Fatalf("expected stable payload hash key, got %q and %q", a, b)
	}
	if eventKey("", `{"a":2}`) == a {
		t.Fatalf("expected different payloads to hash differently")
	}
	if got := eventKey("", ""); got != "" {
		t.Fatalf("expected no key without id or payload, got %q", got)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"intent_ref":"abc","outcome":"success"}`)
	secret := "whsec_test"
	sig := SignWebhookPayload(payload, secret)

	if !VerifyWebhookSignature(payload, sig, secret) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifyWebhookSignature(payload, "sha256="+strings.ToUpper(sig), secret) {
		t.Fatalf("expected prefixed upper-case signature to verify")
	}
	if VerifyWebhookSignature(payload, sig, "other") {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifyWebhookSignature([]byte(`{"tampered":true}`), sig, secret) {
		t.Fatalf("expected tampered body to fail")
	}
	if VerifyWebhookSignature(payload, "not-hex", secret) {
		t.Fatalf("expected malformed signature to fail")
	}
	if VerifyWebhookSignature(payload, "", secret) || VerifyWebhookSignature(payload, sig, "") {
		t.Fatalf("expected empty signature or secret to fail")
	}
}
