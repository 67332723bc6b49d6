package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe verifier operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeVerifierConfig configures the StripeVerifier.
type StripeVerifierConfig struct {
	APIKey   string
	Backends *stripe.Backends
	// Timeout caps each session lookup. A lookup that exceeds it surfaces
	// ErrVerifierUnavailable, not a payment failure.
	Timeout time.Duration
	Logger  StripeLogger
	// Sessions overrides the Stripe-backed client in tests.
	Sessions stripeSessionAPI
}

// StripeVerifier implements PaymentVerifier against the Stripe Checkout API.
type StripeVerifier struct {
	sessions stripeSessionAPI
	timeout  time.Duration
	logger   StripeLogger
}

// NewStripeVerifier constructs a Stripe-backed PaymentVerifier.
func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeVerifier{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// RetrieveSession fetches the checkout session identified by handle and maps
// it to processor-neutral SessionState.
func (v *StripeVerifier) RetrieveSession(ctx context.Context, handle string) (SessionState, error) {
	if v == nil {
		return SessionState{}, errors.New("stripe: verifier is nil")
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return SessionState{}, fmt.Errorf("%w: empty session handle", ErrSessionNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := v.sessions.Get(handle, params)
	if err != nil {
		mapped := v.mapError(err)
		v.logger(ctx, "stripe.session.retrieve_failed", map[string]any{
			"session_id": handle,
			"error":      err.Error(),
		})
		return SessionState{}, mapped
	}

	state := SessionState{
		SessionID:   session.ID,
		Status:      SessionPaymentStatus(session.PaymentStatus),
		AmountTotal: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		BoundUserID: session.ClientReferenceID,
	}
	if session.PaymentIntent != nil {
		state.PaymentIntentID = session.PaymentIntent.ID
	}

	v.logger(ctx, "stripe.session.retrieved", map[string]any{
		"session_id":     state.SessionID,
		"payment_status": string(state.Status),
	})
	return state, nil
}

func (v *StripeVerifier) mapError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, stripeErr.Code)
		}
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: stripe status %d", ErrVerifierUnavailable, stripeErr.HTTPStatusCode)
		}
		return fmt.Errorf("stripe: session retrieve failed: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
}

var _ PaymentVerifier = (*StripeVerifier)(nil)
