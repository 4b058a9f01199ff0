//go:build !integration

package usecase_test

import (
	"encoding/json"
	"testing"
	"time"

	"novacv/internal/domain/model"
	"novacv/internal/usecase"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	users     *MockUserRepo
	subs      *MockSubscriptionRepo
	processed *MockProcessedEventRepo
	tm        *MockTxManager
	cache     *MockCache
	alerts    *MockNotifier
	locker    *MockLocker
	provider  *MockPaymentProvider
	clock     *testClock
	plans     usecase.PlanCatalog

	webhooks usecase.WebhookUseCase
	ents     usecase.EntitlementUseCase
	recon    usecase.ReconcileUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := newMemStore()
	h := &harness{
		users:     &MockUserRepo{s: s},
		subs:      &MockSubscriptionRepo{s: s},
		processed: &MockProcessedEventRepo{s: s},
		tm:        &MockTxManager{},
		cache:     &MockCache{},
		alerts:    &MockNotifier{},
		locker:    &MockLocker{},
		provider:  &MockPaymentProvider{},
		clock:     newTestClock(t0),
		plans:     mustCatalog(t),
	}
	log := newTestLogger()
	h.webhooks = usecase.NewWebhookUseCase(h.users, h.subs, h.processed, h.tm, h.plans, log,
		usecase.WithEventLock(h.locker, time.Second),
		usecase.WithWebhookCache(h.cache),
		usecase.WithWebhookAlerts(h.alerts),
		usecase.WithWebhookClock(h.clock.Now),
	)
	ents := usecase.NewEntitlementUseCase(h.users, h.subs, h.tm, h.plans, h.provider, h.cache, log)
	ents.SetClock(h.clock.Now)
	h.ents = ents
	recon := usecase.NewReconcileUseCase(h.users, h.subs, h.tm, h.plans, h.cache, h.alerts, log)
	recon.SetClock(h.clock.Now)
	h.recon = recon
	return h
}

// event builds a verified envelope around a Paddle-shaped data object.
func event(id, typ string, at time.Time, data map[string]any) *model.WebhookEnvelope {
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return &model.WebhookEnvelope{Provider: "paddle", EventID: id, EventType: typ, OccurredAt: at, Data: b}
}

func custom(userID, plan string) map[string]any {
	return map[string]any{"user_id": userID, "plan_id": plan}
}

func period(start time.Time, days int) map[string]any {
	return map[string]any{
		"starts_at": start.Format(time.RFC3339),
		"ends_at":   start.AddDate(0, 0, days).Format(time.RFC3339),
	}
}

func proSubscription(subID, userID, status string, start time.Time) map[string]any {
	return map[string]any{
		"id":                     subID,
		"status":                 status,
		"customer_id":            "ctm_1",
		"custom_data":            custom(userID, "pro"),
		"current_billing_period": period(start, 30),
	}
}

func basicPurchase(txnID, userID string) map[string]any {
	return map[string]any{
		"id":          txnID,
		"status":      "completed",
		"custom_data": custom(userID, "basic"),
		"details":     map[string]any{"totals": map[string]any{"total": "500", "currency_code": "USD"}},
	}
}
