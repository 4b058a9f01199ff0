package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory provider for dev runs and tests. It
// accepts any webhook body without a signature.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	seq       int64
	sessions  map[string]adapter.CheckoutRequest // transaction id -> request
	cancelled []string
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		sessions: make(map[string]adapter.CheckoutRequest),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("txn_noop_%d", g.seq)
}

func (g *NoopPaymentGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.sessions[id] = req
	return &adapter.CheckoutSession{
		URL:           "https://example.test/checkout/" + id,
		TransactionID: id,
		ExpiresAt:     time.Now().Add(time.Hour),
	}, nil
}

// Session returns the request behind a checkout created by this gateway.
func (g *NoopPaymentGateway) Session(transactionID string) (adapter.CheckoutRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.sessions[transactionID]
	return r, ok
}

func (g *NoopPaymentGateway) VerifyAndUnmarshalWebhook(ctx context.Context, rawBody []byte, signature string) (*model.WebhookEnvelope, error) {
	return decodeEnvelope(g.Name(), rawBody)
}

func (g *NoopPaymentGateway) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, externalSubscriptionID)
	return nil
}

func (g *NoopPaymentGateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}
