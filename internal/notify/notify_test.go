package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	name  string
	calls int
	err   error
}

func (s *stubSender) Send(context.Context, string, string) error {
	s.calls++
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFilters(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{" settled ", "failed"}, discardLogger())

	_ = n.Notify(context.Background(), "settled", "t", "m")
	_ = n.Notify(context.Background(), "skipped", "t", "m")
	if s.calls != 1 {
		t.Errorf("calls = %d, want 1", s.calls)
	}

	all := NewNotifier([]Sender{s}, nil, discardLogger())
	if !all.Allows("anything") {
		t.Error("empty filter should allow everything")
	}
}

func TestNotifierContinuesPastFailure(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "failed", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("err = %v", err)
	}
	if good.calls != 1 {
		t.Error("good sender skipped")
	}
	if !n.Enabled() || NewNotifier(nil, nil, discardLogger()).Enabled() {
		t.Error("Enabled misreports")
	}
}

func TestTelegramSender(t *testing.T) {
	var gotPath string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	if err := s.Send(context.Background(), "Market 1 settled", "outcome: Yes"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if got["chat_id"] != "42" || got["text"] != "Market 1 settled\noutcome: Yes" {
		t.Errorf("body = %v", got)
	}
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "status 404") || !strings.Contains(err.Error(), "invalid webhook") {
		t.Errorf("err = %v", err)
	}
}

func TestDiscordSenderTruncates(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "t", strings.Repeat("x", 5000)); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(content)); n != discordLimit {
		t.Errorf("content length = %d, want %d", n, discordLimit)
	}
	if !strings.HasPrefix(content, "**t**\n") {
		t.Errorf("content prefix = %q", content[:10])
	}
}
