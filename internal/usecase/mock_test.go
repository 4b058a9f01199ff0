//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"novacv/internal/catalog"
	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/domain/ports/repository"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.Entitlement.Usage != nil {
		c.Entitlement.Usage = make(map[model.Feature]model.UsageCounter, len(u.Entitlement.Usage))
		for k, v := range u.Entitlement.Usage {
			c.Entitlement.Usage[k] = v
		}
	}
	return &c
}

func cloneRecord(r *model.SubscriptionRecord) *model.SubscriptionRecord {
	c := *r
	c.Events = nil
	return &c
}

// =============================
// Transactions
// =============================

// memTx journals undo steps so a failed WithTx leaves the store untouched,
// and holds the per-user locks taken inside it.
type memTx struct {
	undo    []func()
	release []func()
}

func (tx *memTx) onRollback(f func()) {
	if tx != nil {
		tx.undo = append(tx.undo, f)
	}
}

func asTx(tx repository.Tx) *memTx {
	t, _ := tx.(*memTx)
	return t
}

type MockTxManager struct {
	mu        sync.Mutex
	commits   int
	rollbacks int

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	tx := &memTx{}
	err := fn(ctx, tx)
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	for i := len(tx.release) - 1; i >= 0; i-- {
		tx.release[i]()
	}
	m.mu.Lock()
	if err != nil {
		m.rollbacks++
	} else {
		m.commits++
	}
	m.mu.Unlock()
	return err
}

// =============================
// Store + repositories
// =============================

type memStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	records   map[string]*model.SubscriptionRecord
	events    []model.SubscriptionEvent
	processed map[string]*model.ProcessedEvent
	locks     map[string]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*model.User{},
		records:   map[string]*model.SubscriptionRecord{},
		processed: map[string]*model.ProcessedEvent{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (s *memStore) userLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ---- Users ----

type MockUserRepo struct {
	s *memStore

	SaveFunc     func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, u)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, had := r.s.users[u.ID]
	r.s.users[u.ID] = cloneUser(u)
	asTx(tx).onRollback(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if had {
			r.s.users[u.ID] = prev
		} else {
			delete(r.s.users, u.ID)
		}
	})
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *MockUserRepo) Lock(ctx context.Context, tx repository.Tx, id string) error {
	t := asTx(tx)
	if t == nil {
		return domain.ErrInvalidExecContext
	}
	l := r.s.userLock(id)
	l.Lock()
	t.release = append(t.release, l.Unlock)
	return nil
}

func (r *MockUserRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for id, u := range r.s.users {
		e := u.Entitlement
		if e.Status == model.StatusActive && e.EndDate != nil && !now.Before(*e.EndDate) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockUserRepo) CountByPlan(ctx context.Context, tx repository.Tx) (map[model.PlanID]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.PlanID]int{}
	for _, u := range r.s.users {
		if u.Entitlement.Status == model.StatusActive {
			out[u.Entitlement.Plan]++
		}
	}
	return out, nil
}

// put seeds or overwrites a user outside any transaction.
func (r *MockUserRepo) put(u *model.User) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = cloneUser(u)
}

func (r *MockUserRepo) get(id string) *model.User {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u)
	}
	return nil
}

// ---- Ledger ----

type MockSubscriptionRepo struct {
	s *memStore

	SaveFunc        func(ctx context.Context, tx repository.Tx, rec *model.SubscriptionRecord) error
	AppendEventFunc func(ctx context.Context, tx repository.Tx, ev *model.SubscriptionEvent) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, rec *model.SubscriptionRecord) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, rec)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, other := range r.s.records {
		if id != rec.ID && other.ExternalSubscriptionID == rec.ExternalSubscriptionID {
			return domain.ErrAlreadyExists
		}
	}
	prev, had := r.s.records[rec.ID]
	r.s.records[rec.ID] = cloneRecord(rec)
	asTx(tx).onRollback(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if had {
			r.s.records[rec.ID] = prev
		} else {
			delete(r.s.records, rec.ID)
		}
	})
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MockSubscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.SubscriptionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.records {
		if rec.ExternalSubscriptionID == externalID {
			return cloneRecord(rec), nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.SubscriptionRecord
	for _, rec := range r.s.records {
		if rec.UserID == userID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MockSubscriptionRepo) AppendEvent(ctx context.Context, tx repository.Tx, ev *model.SubscriptionEvent) error {
	if r.AppendEventFunc != nil {
		return r.AppendEventFunc(ctx, tx, ev)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.ExternalEventID == ev.ExternalEventID {
			return domain.ErrAlreadyExists
		}
	}
	r.s.events = append(r.s.events, *ev)
	n := len(r.s.events)
	asTx(tx).onRollback(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		r.s.events = r.s.events[:n-1]
	})
	return nil
}

func (r *MockSubscriptionRepo) ListEvents(ctx context.Context, tx repository.Tx, recordID string) ([]model.SubscriptionEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.SubscriptionEvent
	for _, e := range r.s.events {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) ListStaleUsers(ctx context.Context, tx repository.Tx, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.s.records {
		u, ok := r.s.users[rec.UserID]
		if !ok || seen[rec.UserID] || !rec.UpdatedAt.After(u.UpdatedAt) {
			continue
		}
		seen[rec.UserID] = true
		out = append(out, rec.UserID)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) all() []*model.SubscriptionRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.SubscriptionRecord, 0, len(r.s.records))
	for _, rec := range r.s.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func (r *MockSubscriptionRepo) eventCount() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.events)
}

// ---- Processed events ----

type MockProcessedEventRepo struct {
	s *memStore

	SetOutcomeFunc func(ctx context.Context, tx repository.Tx, id string, outcome model.EventOutcome) error
}

var _ repository.ProcessedEventRepository = (*MockProcessedEventRepo)(nil)

func (r *MockProcessedEventRepo) MarkProcessed(ctx context.Context, tx repository.Tx, ev *model.ProcessedEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.processed[ev.ExternalEventID]; ok {
		return false, nil
	}
	c := *ev
	r.s.processed[ev.ExternalEventID] = &c
	asTx(tx).onRollback(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		delete(r.s.processed, ev.ExternalEventID)
	})
	return true, nil
}

func (r *MockProcessedEventRepo) SetOutcome(ctx context.Context, tx repository.Tx, id string, outcome model.EventOutcome) error {
	if r.SetOutcomeFunc != nil {
		return r.SetOutcomeFunc(ctx, tx, id, outcome)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.processed[id]
	if !ok {
		return domain.ErrNotFound
	}
	prev := ev.Outcome
	ev.Outcome = outcome
	asTx(tx).onRollback(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		ev.Outcome = prev
	})
	return nil
}

func (r *MockProcessedEventRepo) outcome(id string) (model.EventOutcome, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.processed[id]
	if !ok {
		return "", false
	}
	return ev.Outcome, true
}

// =============================
// Adapters
// =============================

type MockCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *MockCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func (c *MockCache) count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.invalidated {
		if id == userID {
			n++
		}
	}
	return n
}

type MockNotifier struct {
	mu     sync.Mutex
	alerts []adapter.Alert
}

func (n *MockNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *MockNotifier) sent() []adapter.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]adapter.Alert(nil), n.alerts...)
}

type MockLocker struct {
	mu   sync.Mutex
	held map[string]bool

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockFunc != nil {
		return l.TryLockFunc(ctx, key, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return "", domain.ErrAlreadyExists
	}
	l.held[key] = true
	return "tok", nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

type MockPaymentProvider struct {
	mu        sync.Mutex
	requests  []adapter.CheckoutRequest
	cancelled []string

	CreateCheckoutFunc func(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error)
	CancelFunc         func(ctx context.Context, externalSubscriptionID string) error
}

var _ adapter.PaymentProvider = (*MockPaymentProvider)(nil)

func (m *MockPaymentProvider) Name() string { return "paddle" }

func (m *MockPaymentProvider) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return &adapter.CheckoutSession{URL: "https://pay.example/txn_1", TransactionID: "txn_1"}, nil
}

func (m *MockPaymentProvider) VerifyAndUnmarshalWebhook(ctx context.Context, rawBody []byte, signature string) (*model.WebhookEnvelope, error) {
	return nil, domain.ErrInvalidSignature
}

func (m *MockPaymentProvider) CancelSubscription(ctx context.Context, externalSubscriptionID string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalSubscriptionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, externalSubscriptionID)
	return nil
}

type MockAI struct {
	mu    sync.Mutex
	calls int

	Tokens   int
	Reply    string
	ChatFunc func(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error)
}

var _ adapter.AIServiceAdapter = (*MockAI)(nil)

func (m *MockAI) Name() string { return "mock" }

func (m *MockAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return m.Tokens, nil
}

func (m *MockAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, model, messages)
	}
	return m.Reply, adapter.Usage{PromptTokens: m.Tokens, CompletionTokens: 20, TotalTokens: m.Tokens + 20}, nil
}
