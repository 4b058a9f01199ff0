//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novacv/internal/catalog"
	"novacv/internal/domain"
	"novacv/internal/domain/gate"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/infra/api"
	"novacv/internal/infra/api/apiv1"
	"novacv/internal/usecase"
)

const (
	testSecret   = "0123456789abcdef-test"
	testAdminKey = "admin-key"
)

//
// ---------------- use case stubs ----------------
//

type stubUsers struct {
	ensured []string
	err     error
}

func (s *stubUsers) Ensure(ctx context.Context, id, email string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ensured = append(s.ensured, id+"|"+email)
	return &model.User{ID: id, Email: email}, nil
}

func (s *stubUsers) Get(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id}, nil
}

type stubEntitlements struct {
	GetFunc       func(ctx context.Context, userID string) (*usecase.EntitlementView, error)
	IncrementFunc func(ctx context.Context, userID string, f model.Feature, n int64) (gate.Decision, error)
	CancelFunc    func(ctx context.Context, userID string) (*usecase.EntitlementView, error)
}

func (s *stubEntitlements) Get(ctx context.Context, userID string) (*usecase.EntitlementView, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, userID)
	}
	return &usecase.EntitlementView{UserID: userID, Entitlement: model.Entitlement{Plan: model.PlanFree, Status: model.StatusActive}}, nil
}

func (s *stubEntitlements) Features(ctx context.Context, userID string) (*usecase.FeaturesView, error) {
	return &usecase.FeaturesView{Plan: model.PlanFree, Status: model.StatusActive, Features: map[model.Feature]gate.Decision{}}, nil
}

func (s *stubEntitlements) CanUse(ctx context.Context, userID string, f model.Feature) (gate.Decision, error) {
	return gate.Decision{Feature: f}, nil
}

func (s *stubEntitlements) IncrementUsage(ctx context.Context, userID string, f model.Feature, n int64) (gate.Decision, error) {
	if s.IncrementFunc != nil {
		return s.IncrementFunc(ctx, userID, f, n)
	}
	return gate.Decision{Feature: f, Allowed: true, Remaining: 5, Reason: gate.ReasonOK}, nil
}

func (s *stubEntitlements) Cancel(ctx context.Context, userID string) (*usecase.EntitlementView, error) {
	if s.CancelFunc != nil {
		return s.CancelFunc(ctx, userID)
	}
	return nil, domain.ErrNoSubscription
}

type stubCheckout struct {
	err error
	got model.PlanID
}

func (s *stubCheckout) Checkout(ctx context.Context, userID, email string, planID model.PlanID) (*usecase.CheckoutResult, error) {
	s.got = planID
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.CheckoutResult{CheckoutURL: "https://pay.example/txn_1", TransactionID: "txn_1"}, nil
}

type stubWebhooks struct {
	res *usecase.ProcessResult
	err error
	got *model.WebhookEnvelope
}

func (s *stubWebhooks) Process(ctx context.Context, env *model.WebhookEnvelope) (*usecase.ProcessResult, error) {
	s.got = env
	return s.res, s.err
}

type stubAI struct {
	err   error
	panic bool
}

func (s *stubAI) Generate(ctx context.Context, userID, section, prompt string) (*usecase.Generation, error) {
	if s.panic {
		panic("model client exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &usecase.Generation{Section: section, Text: "draft", Model: "gpt-4o-mini", Remaining: 9}, nil
}

type stubLedger struct{ err error }

func (s *stubLedger) History(ctx context.Context, userID string) ([]*model.SubscriptionRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*model.SubscriptionRecord{{ID: "r1", UserID: userID, Plan: model.PlanPro, Status: model.RecordActive}}, nil
}

type stubReconcile struct{}

func (stubReconcile) SweepExpired(ctx context.Context) (int, error) { return 0, nil }

func (stubReconcile) ReconcileUser(ctx context.Context, userID string) (*usecase.ReconcileResult, error) {
	if userID == "ghost" {
		return nil, domain.ErrUserNotFound
	}
	return &usecase.ReconcileResult{UserID: userID, Repaired: true}, nil
}

func (stubReconcile) ReconcileStale(ctx context.Context, batch int) (*usecase.SweepReport, error) {
	return &usecase.SweepReport{}, nil
}

type stubProvider struct {
	verifyErr error
}

func (p *stubProvider) Name() string { return "paddle" }

func (p *stubProvider) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) VerifyAndUnmarshalWebhook(ctx context.Context, raw []byte, sig string) (*model.WebhookEnvelope, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	if sig == "" {
		return nil, domain.ErrInvalidSignature
	}
	return &model.WebhookEnvelope{Provider: "paddle", EventID: "evt_1", EventType: model.EventSubscriptionCreated, Raw: raw}, nil
}

func (p *stubProvider) CancelSubscription(ctx context.Context, id string) error { return nil }

//
// -------------------- helpers --------------------
//

type fixture struct {
	users    *stubUsers
	ents     *stubEntitlements
	checkout *stubCheckout
	webhooks *stubWebhooks
	ai       *stubAI
	ledger   *stubLedger
	provider *stubProvider
	opts     apiv1.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		users:    &stubUsers{},
		ents:     &stubEntitlements{},
		checkout: &stubCheckout{},
		webhooks: &stubWebhooks{res: &usecase.ProcessResult{Status: usecase.ProcessProcessed}},
		ai:       &stubAI{},
		ledger:   &stubLedger{},
		provider: &stubProvider{},
		opts:     apiv1.Options{JWTSecret: testSecret, AdminAPIKey: testAdminKey, MaxWebhookBytes: 1 << 10, RequestTimeout: time.Second},
	}
}

func (f *fixture) handler(t *testing.T) http.Handler {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	l := zerolog.New(io.Discard)
	srv := apiv1.NewServer(apiv1.Deps{
		Plans:        usecase.NewPlanUseCase(cat),
		Users:        f.users,
		Entitlements: f.ents,
		Checkout:     f.checkout,
		Webhooks:     f.webhooks,
		AI:           f.ai,
		Ledger:       f.ledger,
		Reconcile:    stubReconcile{},
		Provider:     f.provider,
	}, f.opts, &l)
	return srv.Handler()
}

func token(t *testing.T, id string, ttl time.Duration) string {
	t.Helper()
	tok, err := api.NewJWTAuth(testSecret).Mint(id, id+"@example.com", "free", ttl)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, id string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, id, time.Hour)}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

//
// -------------------- tests --------------------
//

func TestPublicRoutes(t *testing.T) {
	h := newFixture(t).handler(t)

	t.Run("should report health", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(api.TraceHeader))
	})

	t.Run("should echo an inbound request id", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/health", "", map[string]string{api.TraceHeader: "req-42"})
		assert.Equal(t, "req-42", rec.Header().Get(api.TraceHeader))
	})

	t.Run("should list the catalog", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/plans", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out apiv1.PlanList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		require.Len(t, out.Plans, 3)
		assert.Equal(t, model.PlanFree, out.Plans[0].ID)
		assert.Equal(t, "free", out.Plans[0].Billing)
		assert.Contains(t, rec.Body.String(), `"aiGenerations"`)
	})

	t.Run("should answer unknown routes with the error envelope", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errorCode(t, rec))
	})
}

func TestWebhookRoute(t *testing.T) {
	sig := map[string]string{"Paddle-Signature": "ts=1;h1=abc"}

	cases := []struct {
		name     string
		path     string
		body     string
		hdr      map[string]string
		setup    func(f *fixture)
		wantCode int
		wantBody string
	}{
		{name: "processed", path: "/payments/webhook/paddle", body: `{}`, hdr: sig, wantCode: http.StatusOK, wantBody: `"processed"`},
		{name: "duplicate", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.res = &usecase.ProcessResult{Status: usecase.ProcessDuplicate} },
			wantCode: http.StatusOK, wantBody: `"duplicate"`},
		{name: "ignored", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.res = &usecase.ProcessResult{Status: usecase.ProcessIgnored} },
			wantCode: http.StatusOK, wantBody: `"ignored"`},
		{name: "unconfigured provider", path: "/payments/webhook/stripe", body: `{}`, hdr: sig, wantCode: http.StatusNotFound, wantBody: "not_found"},
		{name: "missing signature", path: "/payments/webhook/paddle", body: `{}`, wantCode: http.StatusUnauthorized, wantBody: "invalid_signature"},
		{name: "in flight", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.err = domain.ErrEventInFlight },
			wantCode: http.StatusConflict, wantBody: "event_in_flight"},
		{name: "bad payload", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.err = fmt.Errorf("%w: no user", domain.ErrInvalidArgument) },
			wantCode: http.StatusBadRequest, wantBody: "invalid_argument"},
		{name: "storage failure is masked", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.err = fmt.Errorf("%w: connection reset", domain.ErrOperationFailed) },
			wantCode: http.StatusInternalServerError, wantBody: `"internal error"`},
		{name: "consistency failure", path: "/payments/webhook/paddle", body: `{}`, hdr: sig,
			setup:    func(f *fixture) { f.webhooks.err = domain.ErrConsistency },
			wantCode: http.StatusInternalServerError, wantBody: "consistency_error"},
		{name: "oversized body", path: "/payments/webhook/paddle", body: strings.Repeat("x", 2048), hdr: sig, wantCode: http.StatusRequestEntityTooLarge, wantBody: "payload_too_large"},
	}

	for _, tc := range cases {
		t.Run("should map "+tc.name, func(t *testing.T) {
			// --- Arrange ---
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			h := f.handler(t)

			// --- Act ---
			rec := do(t, h, http.MethodPost, tc.path, tc.body, tc.hdr)

			// --- Assert ---
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}

	t.Run("should hand the raw body to the processor", func(t *testing.T) {
		f := newFixture(t)
		rec := do(t, f.handler(t), http.MethodPost, "/payments/webhook/paddle", `{"event_id":"evt_1"}`, sig)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.webhooks.got)
		assert.Equal(t, `{"event_id":"evt_1"}`, string(f.webhooks.got.Raw))
	})
}

func TestUserAuth(t *testing.T) {
	t.Run("should reject a missing token", func(t *testing.T) {
		rec := do(t, newFixture(t).handler(t), http.MethodGet, "/payments/subscription", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", errorCode(t, rec))
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		hdr := map[string]string{"Authorization": "Bearer " + token(t, "u-1", -time.Minute)}
		rec := do(t, newFixture(t).handler(t), http.MethodGet, "/payments/subscription", "", hdr)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		tok, err := api.NewJWTAuth("another-secret-0123456").Mint("u-1", "a@b.c", "", time.Hour)
		require.NoError(t, err)
		rec := do(t, newFixture(t).handler(t), http.MethodGet, "/payments/features", "", map[string]string{"Authorization": "Bearer " + tok})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should ensure the user and serve the subscription", func(t *testing.T) {
		f := newFixture(t)
		rec := do(t, f.handler(t), http.MethodGet, "/payments/subscription", "", bearer(t, "u-1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []string{"u-1|u-1@example.com"}, f.users.ensured)
		assert.Contains(t, rec.Body.String(), `"subscription"`)
	})

	t.Run("should serve features", func(t *testing.T) {
		rec := do(t, newFixture(t).handler(t), http.MethodGet, "/payments/features", "", bearer(t, "u-1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthenticatedRoutes_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		method   string
		path     string
		body     string
		setup    func(f *fixture)
		wantCode int
		wantErr  string
	}{
		{name: "checkout success", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":"pro"}`, wantCode: http.StatusOK},
		{name: "checkout unknown plan", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":"gold"}`,
			setup:    func(f *fixture) { f.checkout.err = domain.ErrPlanNotFound },
			wantCode: http.StatusNotFound, wantErr: "plan_not_found"},
		{name: "checkout already active", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":"pro"}`,
			setup:    func(f *fixture) { f.checkout.err = domain.ErrPlanAlreadyActive },
			wantCode: http.StatusConflict, wantErr: "plan_already_active"},
		{name: "checkout rate limited", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":"pro"}`,
			setup:    func(f *fixture) { f.checkout.err = domain.ErrRateLimited },
			wantCode: http.StatusTooManyRequests, wantErr: "rate_limited"},
		{name: "checkout provider down", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":"pro"}`,
			setup:    func(f *fixture) { f.checkout.err = fmt.Errorf("%w: paddle 503", domain.ErrUpstream) },
			wantCode: http.StatusBadGateway, wantErr: "upstream_error"},
		{name: "checkout missing plan id", method: http.MethodPost, path: "/payments/checkout", body: `{}`, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "checkout malformed json", method: http.MethodPost, path: "/payments/checkout", body: `{"planId":`, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "usage limit", method: http.MethodPost, path: "/payments/usage", body: `{"feature":"aiGenerations","amount":1}`,
			setup: func(f *fixture) {
				f.ents.IncrementFunc = func(ctx context.Context, userID string, ft model.Feature, n int64) (gate.Decision, error) {
					return gate.Decision{}, domain.ErrUsageLimitReached
				}
			},
			wantCode: http.StatusForbidden, wantErr: "usage_limit_reached"},
		{name: "usage feature off plan", method: http.MethodPost, path: "/payments/usage", body: `{"feature":"aiGenerations"}`,
			setup: func(f *fixture) {
				f.ents.IncrementFunc = func(ctx context.Context, userID string, ft model.Feature, n int64) (gate.Decision, error) {
					return gate.Decision{}, domain.ErrFeatureUnavailable
				}
			},
			wantCode: http.StatusForbidden, wantErr: "feature_unavailable"},
		{name: "usage negative amount", method: http.MethodPost, path: "/payments/usage", body: `{"feature":"aiGenerations","amount":-3}`, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "usage unknown field", method: http.MethodPost, path: "/payments/usage", body: `{"feature":"aiGenerations","plan":"pro"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "usage success", method: http.MethodPost, path: "/payments/usage", body: `{"feature":"aiGenerations"}`, wantCode: http.StatusOK},
		{name: "cancel without subscription", method: http.MethodPost, path: "/payments/cancel", wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "generate success", method: http.MethodPost, path: "/ai/generate", body: `{"section":"summary","prompt":"backend engineer"}`, wantCode: http.StatusOK},
		{name: "generate upstream failure", method: http.MethodPost, path: "/ai/generate", body: `{"section":"summary","prompt":"x"}`,
			setup:    func(f *fixture) { f.ai.err = fmt.Errorf("%w: openai 500", domain.ErrUpstream) },
			wantCode: http.StatusBadGateway, wantErr: "upstream_error"},
		{name: "generate timeout", method: http.MethodPost, path: "/ai/generate", body: `{"section":"summary","prompt":"x"}`,
			setup:    func(f *fixture) { f.ai.err = context.DeadlineExceeded },
			wantCode: http.StatusGatewayTimeout, wantErr: "timeout"},
		{name: "panic is recovered", method: http.MethodPost, path: "/ai/generate", body: `{"section":"summary","prompt":"x"}`,
			setup:    func(f *fixture) { f.ai.panic = true },
			wantCode: http.StatusInternalServerError, wantErr: "internal"},
	}

	for _, tc := range cases {
		t.Run("should map "+tc.name, func(t *testing.T) {
			// --- Arrange ---
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}

			// --- Act ---
			rec := do(t, f.handler(t), tc.method, tc.path, tc.body, bearer(t, "u-1"))

			// --- Assert ---
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantErr != "" {
				assert.Equal(t, tc.wantErr, errorCode(t, rec))
			}
		})
	}

	t.Run("should pass the requested plan to checkout", func(t *testing.T) {
		f := newFixture(t)
		rec := do(t, f.handler(t), http.MethodPost, "/payments/checkout", `{"planId":"basic"}`, bearer(t, "u-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.PlanBasic, f.checkout.got)
		assert.Contains(t, rec.Body.String(), `"checkoutUrl":"https://pay.example/txn_1"`)
	})

	t.Run("should show error details in dev", func(t *testing.T) {
		f := newFixture(t)
		f.opts.Dev = true
		f.webhooks.err = errors.New("pg: deadlock detected")
		rec := do(t, f.handler(t), http.MethodPost, "/payments/webhook/paddle", `{}`, map[string]string{"Paddle-Signature": "x"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "deadlock")
	})
}

func TestAdminRoutes(t *testing.T) {
	admin := map[string]string{api.AdminKeyHeader: testAdminKey}

	t.Run("should require the api key", func(t *testing.T) {
		h := newFixture(t).handler(t)
		rec := do(t, h, http.MethodGet, "/admin/users/u-1/subscriptions", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		rec = do(t, h, http.MethodGet, "/admin/users/u-1/subscriptions", "", map[string]string{api.AdminKeyHeader: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should be forbidden when no key is configured", func(t *testing.T) {
		f := newFixture(t)
		f.opts.AdminAPIKey = ""
		rec := do(t, f.handler(t), http.MethodGet, "/admin/users/u-1/subscriptions", "", admin)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("should return the ledger", func(t *testing.T) {
		rec := do(t, newFixture(t).handler(t), http.MethodGet, "/admin/users/u-1/subscriptions", "", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		var out apiv1.SubscriptionHistory
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "u-1", out.UserID)
		require.Len(t, out.Subscriptions, 1)
	})

	t.Run("should map unknown users to 404", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.err = domain.ErrUserNotFound
		rec := do(t, f.handler(t), http.MethodGet, "/admin/users/ghost/subscriptions", "", admin)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should reconcile a user", func(t *testing.T) {
		h := newFixture(t).handler(t)
		rec := do(t, h, http.MethodPost, "/admin/users/u-1/reconcile", "", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"repaired":true`)

		rec = do(t, h, http.MethodPost, "/admin/users/ghost/reconcile", "", admin)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should not accept a user token", func(t *testing.T) {
		rec := do(t, newFixture(t).handler(t), http.MethodPost, "/admin/users/u-1/reconcile", "", bearer(t, "u-1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
