package payments

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound signals the processor does not know the session handle.
	ErrSessionNotFound = errors.New("payments: checkout session not found")
	// ErrVerifierUnavailable signals a transport fault or timeout while talking
	// to the processor. Callers treat it as retryable, never as payment failure.
	ErrVerifierUnavailable = errors.New("payments: verifier unavailable")
)

// SessionPaymentStatus reports whether the processor captured funds for a
// checkout session.
type SessionPaymentStatus string

const (
	// SessionPaymentStatusPaid indicates the processor captured the funds.
	SessionPaymentStatusPaid SessionPaymentStatus = "paid"
	// SessionPaymentStatusUnpaid indicates funds were not captured.
	SessionPaymentStatusUnpaid SessionPaymentStatus = "unpaid"
	// SessionPaymentStatusNoPaymentRequired indicates a zero-amount session.
	SessionPaymentStatusNoPaymentRequired SessionPaymentStatus = "no_payment_required"
)

// Paid reports whether the session settled without requiring further capture.
func (s SessionPaymentStatus) Paid() bool {
	return s == SessionPaymentStatusPaid || s == SessionPaymentStatusNoPaymentRequired
}

// SessionState is the processor-side view of a checkout session. It is
// untrusted input: callers must reconcile AmountTotal against their own
// computed totals and check BoundUserID against the requesting principal.
type SessionState struct {
	SessionID       string
	Status          SessionPaymentStatus
	AmountTotal     int64
	Currency        string
	BoundUserID     string
	PaymentIntentID string
}

// PaymentVerifier retrieves processor-side session state for an opaque
// session handle. Implementations are injected so order assembly can be
// exercised with fakes.
type PaymentVerifier interface {
	RetrieveSession(ctx context.Context, handle string) (SessionState, error)
}
