package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*PaddleGateway)(nil)

const SignatureHeader = "Paddle-Signature"

// PaddleGateway implements adapter.PaymentProvider with the Paddle Billing SDK.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

func NewPaddleGateway(apiKey, webhookSecret string, sandbox bool, opts ...paddle.Option) (*PaddleGateway, error) {
	if apiKey == "" {
		return nil, errors.New("paddle api key empty")
	}
	if webhookSecret == "" {
		return nil, errors.New("paddle webhook secret empty")
	}
	var (
		client *paddle.SDK
		err    error
	)
	if sandbox {
		client, err = paddle.NewSandbox(apiKey, opts...)
	} else {
		client, err = paddle.New(apiKey, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("paddle client: %w", err)
	}
	return &PaddleGateway{client: client, verifier: paddle.NewWebhookVerifier(webhookSecret)}, nil
}

func (g *PaddleGateway) Name() string { return "paddle" }

// transactionRequest builds the checkout transaction. user_id and plan_id ride
// along as custom data and come back on every webhook for the purchase.
func transactionRequest(req adapter.CheckoutRequest) *paddle.CreateTransactionRequest {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	tr := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id": req.UserID,
			"plan_id": string(req.PlanID),
		},
	}
	if req.Email != "" {
		tr.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		tr.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}
	return tr
}

func (g *PaddleGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	if req.PriceID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: price id and user id are required", domain.ErrInvalidArgument)
	}
	txn, err := g.client.TransactionsClient.CreateTransaction(ctx, transactionRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: paddle create transaction: %v", domain.ErrUpstream, err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, fmt.Errorf("%w: paddle returned no checkout url", domain.ErrUpstream)
	}
	return &adapter.CheckoutSession{
		URL:           *txn.Checkout.URL,
		TransactionID: txn.ID,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}, nil
}

// VerifyAndUnmarshalWebhook checks the Paddle-Signature HMAC over rawBody
// before anything in the body is trusted.
func (g *PaddleGateway) VerifyAndUnmarshalWebhook(ctx context.Context, rawBody []byte, signature string) (*model.WebhookEnvelope, error) {
	if signature == "" {
		return nil, domain.ErrInvalidSignature
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(rawBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set(SignatureHeader, signature)
	ok, err := g.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !ok {
		return nil, domain.ErrInvalidSignature
	}
	return decodeEnvelope(g.Name(), rawBody)
}

// CancelSubscription stops renewal at the end of the paid period.
func (g *PaddleGateway) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	if externalSubscriptionID == "" {
		return fmt.Errorf("%w: subscription id is required", domain.ErrInvalidArgument)
	}
	_, err := g.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: externalSubscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return fmt.Errorf("%w: paddle cancel subscription: %v", domain.ErrUpstream, err)
	}
	return nil
}
