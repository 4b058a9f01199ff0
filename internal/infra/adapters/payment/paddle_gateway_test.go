//go:build !integration

package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
)

const testSecret = "pdl_ntfset_test_secret"

func sign(t *testing.T, secret string, body []byte) string {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const body = `{"event_id":"evt_01","event_type":"subscription.created","occurred_at":"2026-03-01T12:00:00.123456Z","notification_id":"ntf_1","data":{"id":"sub_1","status":"active","custom_data":{"user_id":"u-1","plan_id":"pro"}}}`

func TestPaddleGateway_VerifyAndUnmarshalWebhook(t *testing.T) {
	g, err := NewPaddleGateway("pdl_key", testSecret, true)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("should accept a correctly signed body", func(t *testing.T) {
		env, err := g.VerifyAndUnmarshalWebhook(ctx, []byte(body), sign(t, testSecret, []byte(body)))

		require.NoError(t, err)
		assert.Equal(t, "paddle", env.Provider)
		assert.Equal(t, "evt_01", env.EventID)
		assert.Equal(t, model.EventSubscriptionCreated, env.EventType)
		assert.True(t, env.OccurredAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)))
		assert.JSONEq(t, `{"id":"sub_1","status":"active","custom_data":{"user_id":"u-1","plan_id":"pro"}}`, string(env.Data))
		assert.Equal(t, body, string(env.Raw))
	})

	t.Run("should reject a body signed with another secret", func(t *testing.T) {
		_, err := g.VerifyAndUnmarshalWebhook(ctx, []byte(body), sign(t, "wrong", []byte(body)))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("should reject a tampered body", func(t *testing.T) {
		sig := sign(t, testSecret, []byte(body))
		tampered := []byte(body[:len(body)-2] + ` }}`)
		_, err := g.VerifyAndUnmarshalWebhook(ctx, tampered, sig)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("should reject missing and malformed signatures", func(t *testing.T) {
		_, err := g.VerifyAndUnmarshalWebhook(ctx, []byte(body), "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = g.VerifyAndUnmarshalWebhook(ctx, []byte(body), "garbage")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestNewPaddleGateway_RequiresSecrets(t *testing.T) {
	_, err := NewPaddleGateway("", testSecret, true)
	assert.Error(t, err)
	_, err = NewPaddleGateway("key", "", true)
	assert.Error(t, err)
}

func TestTransactionRequest(t *testing.T) {
	tr := transactionRequest(adapter.CheckoutRequest{
		PlanID:     model.PlanBasic,
		PriceID:    "pri_basic_10d",
		UserID:     "u-1",
		Email:      "a@example.com",
		SuccessURL: "https://app.example/done",
	})

	require.Len(t, tr.Items, 1)
	assert.Equal(t, "u-1", tr.CustomData["user_id"])
	assert.Equal(t, "basic", tr.CustomData["plan_id"])
	assert.Equal(t, "a@example.com", tr.CustomData["email"])
	require.NotNil(t, tr.Checkout)
	assert.Equal(t, "https://app.example/done", *tr.Checkout.URL)
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("should require event id and type", func(t *testing.T) {
		_, err := decodeEnvelope("paddle", []byte(`{"data":{}}`))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should reject non-json", func(t *testing.T) {
		_, err := decodeEnvelope("paddle", []byte(`not json`))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should leave occurred_at zero when absent", func(t *testing.T) {
		env, err := decodeEnvelope("noop", []byte(`{"event_id":"e","event_type":"x","data":{}}`))
		require.NoError(t, err)
		assert.True(t, env.OccurredAt.IsZero())
	})
}

func TestNoopPaymentGateway(t *testing.T) {
	g := NewNoopPaymentGateway()
	ctx := context.Background()

	sess, err := g.CreateCheckout(ctx, adapter.CheckoutRequest{UserID: "u-1", PlanID: model.PlanPro})
	require.NoError(t, err)
	req, ok := g.Session(sess.TransactionID)
	require.True(t, ok)
	assert.Equal(t, "u-1", req.UserID)

	require.NoError(t, g.CancelSubscription(ctx, "sub_1"))
	assert.Equal(t, []string{"sub_1"}, g.Cancelled())

	env, err := g.VerifyAndUnmarshalWebhook(ctx, []byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, "noop", env.Provider)
}
