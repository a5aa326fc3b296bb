package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDiscordWebhook_Deliver(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordWebhook(server.URL, nil)
	if err := n.Deliver(context.Background(), Announcement("btc", "abc")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(got.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "BTC" {
		t.Errorf("title = %q, want BTC", e.Title)
	}
	if e.Color != ColorPublic {
		t.Errorf("color = %x, want %x", e.Color, ColorPublic)
	}
	if e.Description != "https://discord.com/api/oauth2/authorize?client_id=abc&permissions=0&scope=bot" {
		t.Errorf("description = %q", e.Description)
	}
}

func TestDiscordWebhook_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Invalid Webhook Token"}`))
	}))
	defer server.Close()

	err := NewDiscordWebhook(server.URL, nil).Deliver(context.Background(), AdminLog("x"))
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestTelegram_Deliver(t *testing.T) {
	var text, chatID, parseMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		text, _ = body["text"].(string)
		chatID, _ = body["chat_id"].(string)
		parseMode, _ = body["parse_mode"].(string)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer server.Close()

	n, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: server.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := n.Deliver(context.Background(), Message{Title: "A<B", Body: "x & y"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if chatID != "42" {
		t.Errorf("chat_id = %q", chatID)
	}
	if parseMode != "HTML" {
		t.Errorf("parse_mode = %q", parseMode)
	}
	if text != "<b>A&lt;B</b>\n<pre>x &amp; y</pre>" {
		t.Errorf("text = %q", text)
	}
}

func TestNewTelegram_Validation(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "x"}); err == nil {
		t.Error("expected error for empty chat id")
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	err := Multi{a, b}.Deliver(context.Background(), AdminLog("hi"))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both notifiers called, got %d %d", a.count(), b.count())
	}
}

func TestAdminLaunch_RedactsSecrets(t *testing.T) {
	msg := AdminLaunch(LaunchInfo{
		Ticker:        "btc",
		ContainerName: "ticker-btc",
		Image:         "ticker-bot:latest",
		ClientID:      "abc",
		Env:           map[string]string{"DISCORD_BOT_TOKEN": "supersecret", "TICKER": "btc", "CRYPTO_NAME": "bitcoin"},
		SecretKeys:    []string{"DISCORD_BOT_TOKEN"},
	})

	if strings.Contains(msg.Body, "supersecret") {
		t.Fatal("token leaked into admin message")
	}
	for _, want := range []string{
		"  ticker-btc:\n",
		"    image: ticker-bot:latest\n",
		"      - DISCORD_BOT_TOKEN=<redacted>\n",
		"      - TICKER=btc\n",
		"client_id=abc",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if strings.Index(msg.Body, "CRYPTO_NAME") > strings.Index(msg.Body, "TICKER=") {
		t.Error("expected env lines sorted")
	}
	if msg.Color != ColorAdmin {
		t.Errorf("color = %x", msg.Color)
	}
}

type recorder struct {
	mu    sync.Mutex
	msgs  []Message
	err   error
	delay time.Duration
}

func (r *recorder) Deliver(ctx context.Context, msg Message) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Logger: zerolog.Nop()})
	r := &recorder{}

	for i := 0; i < 10; i++ {
		if !d.Enqueue(r, AdminLog("line")) {
			t.Fatal("unexpected drop")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.count() != 10 {
		t.Errorf("delivered %d, want 10", r.count())
	}
	if d.Enqueue(r, AdminLog("late")) {
		t.Error("expected enqueue after close to be rejected")
	}
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 1, Logger: zerolog.Nop()})
	slow := &recorder{delay: 200 * time.Millisecond}

	start := time.Now()
	accepted := 0
	for i := 0; i < 20; i++ {
		if d.Enqueue(slow, AdminLog("x")) {
			accepted++
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Enqueue blocked for %v", elapsed)
	}
	if d.Dropped() == 0 {
		t.Error("expected drops with a full queue")
	}
	if uint64(accepted)+d.Dropped() != 20 {
		t.Errorf("accepted %d + dropped %d != 20", accepted, d.Dropped())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Close(ctx)
}

func TestDispatcher_RetriesThenCountsFailure(t *testing.T) {
	var calls atomic.Int32
	failing := notifierFunc(func(context.Context, Message) error {
		calls.Add(1)
		return errors.New("unreachable")
	})

	d := NewDispatcher(DispatcherOptions{Retries: 2, RetryDelay: time.Millisecond, Logger: zerolog.Nop()})
	d.Enqueue(failing, AdminLog("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if d.Failed() != 1 {
		t.Errorf("failed = %d, want 1", d.Failed())
	}
}

type notifierFunc func(context.Context, Message) error

func (f notifierFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }
