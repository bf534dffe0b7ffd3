package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/circuitbreaker"
)

// StripeGateway is the concrete Gateway adapter over Stripe's SDK.
// Every call goes through a circuit breaker keyed on the provider name, so
// a Stripe outage fails fast instead of queuing every commit attempt
// behind a full HTTP timeout.
type StripeGateway struct {
	webhookSecret string
	breaker       *circuitbreaker.Breaker
	logger        *slog.Logger
}

var _ Gateway = (*StripeGateway)(nil)

const breakerKey = "stripe"

// NewStripeGateway creates a Stripe-backed Gateway. secretKey configures
// the SDK's package-level API key, stripe-go's documented usage for a
// single-provider process like this one.
func NewStripeGateway(secretKey, webhookSecret string, logger *slog.Logger) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		breaker:       circuitbreaker.New(5, 30*time.Second),
		logger:        logger,
	}
}

// Charge creates and confirms a PaymentIntent in one round trip.
func (g *StripeGateway) Charge(ctx context.Context, amount int64, currency, paymentMethodID, description string, metadata map[string]string) (Result, error) {
	if !g.breaker.Allow(breakerKey) {
		return Result{}, apperr.SupplierTimeout("stripe circuit breaker open")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(paymentMethodID),
		Description:   stripe.String(description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		source, reason, retryable := categorizeStripeError(err)
		g.logger.Warn("stripe charge failed", "source", source, "retryable", retryable)
		if retryable {
			g.breaker.RecordFailure(breakerKey)
			return Result{}, err
		}
		g.breaker.RecordSuccess(breakerKey) // reached Stripe fine, it just declined
		return Result{
			Success:      false,
			Currency:     currency,
			Amount:       amount,
			ErrorMessage: err.Error(),
			ErrorReason:  reason,
		}, nil
	}

	g.breaker.RecordSuccess(breakerKey)
	result := Result{
		Success:         pi.Status == stripe.PaymentIntentStatusSucceeded,
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Status:          string(pi.Status),
	}
	if pi.LatestCharge != nil {
		result.ChargeID = pi.LatestCharge.ID
	}
	if !result.Success {
		result.ErrorMessage = "payment intent did not reach succeeded status"
		result.ErrorReason = apperr.PaymentReasonCard
	}
	return result, nil
}

// VerifyWebhookSignature validates a Stripe webhook via its documented
// HMAC-SHA256 scheme (stripe-go's webhook.ConstructEvent).
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return Event{}, apperr.InvalidSignature("stripe")
	}
	return Event{ID: ev.ID, Type: string(ev.Type), RawPayload: ev.Data.Raw}, nil
}

// errorSource names the six buckets the gateway categorizes underlying
// Stripe errors into: card, rate_limit, invalid_request,
// authentication, connection, other.
type errorSource string

const (
	sourceCard           errorSource = "card"
	sourceRateLimit      errorSource = "rate_limit"
	sourceInvalidRequest errorSource = "invalid_request"
	sourceAuthentication errorSource = "authentication"
	sourceConnection     errorSource = "connection"
	sourceOther          errorSource = "other"
)

// categorizeStripeError classifies err by source and maps it to the
// HTTP-facing apperr.PaymentFailureReason. retryable reports whether the
// breaker should count this as a failed call: a declined card is a
// definitive answer from Stripe, not a failure of Stripe itself.
func categorizeStripeError(err error) (source errorSource, reason apperr.PaymentFailureReason, retryable bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return sourceOther, apperr.PaymentReasonGateway, true
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		return sourceCard, apperr.PaymentReasonCard, false
	case stripe.ErrorTypeInvalidRequest:
		return sourceInvalidRequest, apperr.PaymentReasonValidation, false
	case stripe.ErrorTypeRateLimit:
		return sourceRateLimit, apperr.PaymentReasonGateway, true
	case stripe.ErrorTypeAuthentication:
		return sourceAuthentication, apperr.PaymentReasonGateway, true
	case stripe.ErrorTypeAPIConnection:
		return sourceConnection, apperr.PaymentReasonTimeout, true
	default:
		return sourceOther, apperr.PaymentReasonGateway, true
	}
}
