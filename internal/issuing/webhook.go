// Package issuing integrates the card processor: webhook verification,
// issuing authorization parsing, and card detail retrieval.
package issuing

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// Handled event types.
const (
	EventAuthorizationRequest = "issuing_authorization.request"
	EventAuthorizationCreated = "issuing_authorization.created"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// ResponseAPIVersion is echoed on webhook responses.
const ResponseAPIVersion = "2025-08-27.basil"

var (
	ErrMissingSignature = errors.New("missing stripe-signature")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Event is a verified webhook event. Authorization is set for the
// issuing_authorization.* types.
type Event struct {
	ID            string
	Type          string
	Authorization *Authorization
}

// Handled reports whether the event type triggers any processing.
func (e *Event) Handled() bool {
	return e.Type == EventAuthorizationRequest || e.Type == EventAuthorizationCreated
}

// Verifier checks webhook signatures against the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a verifier with the processor's default tolerance.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies payload against the signature header and decodes the
// event. The account's API version is not enforced because only a fixed
// subset of the authorization object is read.
func (v *Verifier) Parse(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if !out.Handled() {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("event %s has no data object", evt.ID)
	}

	auth, err := ParseAuthorization(evt.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", evt.ID, err)
	}
	out.Authorization = auth
	return out, nil
}
