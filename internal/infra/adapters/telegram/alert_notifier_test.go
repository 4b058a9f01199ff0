//go:build !integration

package telegram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novacv/internal/domain/ports/adapter"
	"novacv/internal/infra/worker"
)

type mockSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	fail map[int64]bool
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if m.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	m.sent = append(m.sent, msg)
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

var testAlert = adapter.Alert{
	Severity: adapter.SeverityCritical,
	Title:    "webhook left ledger inconsistent",
	Detail:   "record r1 references plan gold",
	Fields:   map[string]string{"user_id": "u-1", "event_id": "evt_1"},
}

func TestFormatAlert(t *testing.T) {
	got := FormatAlert(testAlert)
	assert.Equal(t, "[CRITICAL] webhook left ledger inconsistent\nrecord r1 references plan gold\nevent_id: evt_1\nuser_id: u-1", got)
}

func TestAlertNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("should send to every chat synchronously without a pool", func(t *testing.T) {
		s := &mockSender{fail: map[int64]bool{2: true}}
		n := NewAlertNotifier(s, []int64{1, 2, 3}, nil, testLogger())

		err := n.Notify(ctx, testAlert)

		assert.Error(t, err, "one failed chat is reported")
		assert.Equal(t, 2, s.count())
	})

	t.Run("should deliver through the worker pool", func(t *testing.T) {
		s := &mockSender{}
		pool := worker.NewPool(1, testLogger())
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()
		pool.Start(pctx)
		n := NewAlertNotifier(s, []int64{42}, pool, testLogger())

		require.NoError(t, n.Notify(ctx, testAlert))

		assert.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)
		pool.Stop()
		assert.Equal(t, int64(42), s.sent[0].ChatID)
	})

	t.Run("should do nothing without chats", func(t *testing.T) {
		s := &mockSender{}
		n := NewAlertNotifier(s, nil, nil, testLogger())
		require.NoError(t, n.Notify(ctx, testAlert))
		assert.Zero(t, s.count())
	})
}
