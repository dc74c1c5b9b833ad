package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stubSender struct {
	name     string
	err      error
	messages []string
}

func (s *stubSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, title+"|"+message)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, []string{EventTradeExecuted}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventOpportunity, "opp", "ignored"))
	assert.Empty(t, sender.messages)

	require.NoError(t, n.Notify(ctx, EventTradeExecuted, "trade", "delivered"))
	assert.Len(t, sender.messages, 1)

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(ctx, "open position", "urgent"))
	assert.Len(t, sender.messages, 2)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunity, "opp", "msg"))
	assert.Len(t, sender.messages, 1)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	broken := &stubSender{name: "broken", err: errors.New("webhook down")}
	healthy := &stubSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// The healthy sender still received the message.
	assert.Len(t, healthy.messages, 1)
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("bot-token", "chat-42")
	sender.SetBaseURL(srv.URL)

	require.NoError(t, sender.Send(context.Background(), "Trade executed", "profit 1.25 USDT"))

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", gotBody["chat_id"])
	assert.Equal(t, "*Trade executed*\nprofit 1.25 USDT", gotBody["text"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
}

func TestTelegramSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewTelegramSender("bad", "chat")
	sender.SetBaseURL(srv.URL)

	err := sender.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDiscordSenderPostsContent(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Open position", "sell leg failed on kraken"))

	assert.Equal(t, "**Open position**\nsell leg failed on kraken", gotBody["content"])
}
