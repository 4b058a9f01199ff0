package adapter

import (
	"context"
	"time"

	"novacv/internal/domain/model"
)

type CheckoutRequest struct {
	PlanID     model.PlanID
	PriceID    string
	UserID     string
	Email      string
	SuccessURL string
}

type CheckoutSession struct {
	URL           string
	TransactionID string
	ExpiresAt     time.Time
}

// PaymentProvider is the hex port for the payment provider SDK.
type PaymentProvider interface {
	Name() string

	// CreateCheckout opens a hosted checkout for one catalog price. The user
	// and plan ids travel as custom data and come back on every webhook.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// VerifyAndUnmarshalWebhook checks the signature over rawBody and returns
	// the envelope, or domain.ErrInvalidSignature.
	VerifyAndUnmarshalWebhook(ctx context.Context, rawBody []byte, signature string) (*model.WebhookEnvelope, error)

	CancelSubscription(ctx context.Context, externalSubscriptionID string) error
}
