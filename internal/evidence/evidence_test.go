package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewsSourceFormatsArticles(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/everything" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-Api-Key")
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"title":"Rain expected","description":"Heavy rain","source":{"name":"Wire"},"publishedAt":"2024-01-01T00:00:00Z"},
			{"title":"Dry spell","description":" none ","source":{"name":"Daily"}},
			{"title":"Third","description":"x","source":{"name":"Extra"}}]}`)
	}))
	defer srv.Close()

	src := NewNewsSource(srv.URL, "secret", 2, time.Second)
	window := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := src.Fetch(context.Background(), Query{MarketID: 1, Question: "Will it rain?", Window: window})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := "Source: Wire\nTitle: Rain expected\nDescription: Heavy rain\n\n---\n\nSource: Daily\nTitle: Dry spell\nDescription: none"
	if rec.Content != want {
		t.Errorf("content =\n%q\nwant\n%q", rec.Content, want)
	}
	if rec.SourceName != "news" || rec.Confidence != 0.8 {
		t.Errorf("record = %+v", rec)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
	for _, part := range []string{"pageSize=2", "sortBy=relevancy", "to=2025-03-01T12%3A00%3A00Z", "q=Will+it+rain%3F"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("query %q missing %q", gotQuery, part)
		}
	}
}

func TestNewsSourceErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", 200, `{"status":"error","code":"apiKeyInvalid","message":"bad key"}`},
		{"no articles", 200, `{"status":"ok","articles":[]}`},
		{"http 500", 500, `oops`},
		{"malformed", 200, `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewNewsSource(srv.URL, "k", 5, time.Second).Fetch(context.Background(), Query{Question: "q"})
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPriceSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "bitcoin" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"bitcoin":{"usd":67000.1}}`)
	}))
	defer srv.Close()

	src := NewPriceSource(srv.URL, time.Second)
	rec, err := src.Fetch(context.Background(), Query{Question: "Will BTC be above $70,000 on Friday?"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Content != "bitcoin/usd: 67000.10" {
		t.Errorf("content = %q", rec.Content)
	}
	prices := ParsePrices(rec.Content)
	if p, ok := prices["bitcoin"]; !ok || p.String() != "67000.1" {
		t.Errorf("parsed = %v", prices)
	}

	_, err = src.Fetch(context.Background(), Query{Question: "Will it rain on Monday?"})
	if !errors.Is(err, domain.ErrNotApplicable) {
		t.Errorf("err = %v, want ErrNotApplicable", err)
	}
}

func TestTrackedCoins(t *testing.T) {
	cases := map[string][]string{
		"Will ETH flip BTC?":                  {"bitcoin", "ethereum"},
		"MON above $2?":                       {"monad"},
		"Will it rain on Monday?":             nil,
		"Will the bill pass by Mon, March 3?": nil,
		"Will monad trade above $1?":          {"monad"},
		"Is bitcoin dominance > 50%?":         {"bitcoin"},
	}
	for q, want := range cases {
		got := TrackedCoins(q)
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("TrackedCoins(%q) = %v, want %v", q, got, want)
		}
	}
}

type stubSource struct {
	name    string
	content string
	err     error
	calls   int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, q Query) (domain.EvidenceRecord, error) {
	s.calls++
	if s.err != nil {
		return domain.EvidenceRecord{}, s.err
	}
	return domain.EvidenceRecord{SourceName: s.name, Content: s.content, Confidence: 0.5, Timestamp: time.Now()}, nil
}

func TestAggregatorSkipsFailingSources(t *testing.T) {
	a := NewAggregator([]Source{
		&stubSource{name: "a", err: errors.New("timeout")},
		&stubSource{name: "b", content: "ok"},
		&stubSource{name: "c", err: domain.ErrNotApplicable},
	}, time.Minute, discardLogger())

	got := a.Gather(context.Background(), domain.Market{ID: 1, Question: "q"})
	if len(got) != 1 || got[0].SourceName != "b" {
		t.Errorf("records = %+v", got)
	}
}

func TestAggregatorAllSourcesFail(t *testing.T) {
	a := NewAggregator([]Source{
		&stubSource{name: "a", err: errors.New("dns")},
		&stubSource{name: "b", err: errors.New("500")},
	}, time.Minute, discardLogger())

	got := a.Gather(context.Background(), domain.Market{ID: 1, Question: "q"})
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestIdenticalStrategy(t *testing.T) {
	obs := []domain.Observation{{NodeID: "n1", Content: "x"}, {NodeID: "n2", Content: "x"}}
	if got, err := (Identical{}).Resolve(obs, 2); err != nil || got != "x" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
	obs[1].Content = "y"
	if _, err := (Identical{}).Resolve(obs, 2); !errors.Is(err, domain.ErrDivergentEvidence) {
		t.Errorf("err = %v, want divergent", err)
	}
	if _, err := (Identical{}).Resolve(obs[:1], 2); !errors.Is(err, domain.ErrInsufficientObservations) {
		t.Errorf("err = %v, want insufficient", err)
	}
}

func TestQuorumStrategy(t *testing.T) {
	mk := func(contents ...string) []domain.Observation {
		var out []domain.Observation
		for i, c := range contents {
			out = append(out, domain.Observation{NodeID: fmt.Sprintf("n%d", i), Content: c})
		}
		return out
	}
	q := Quorum{Min: 2}

	if got, err := q.Resolve(mk("a", "a", "b"), 3); err != nil || got != "a" {
		t.Errorf("majority: %q, %v", got, err)
	}
	if _, err := q.Resolve(mk("a", "b"), 3); !errors.Is(err, domain.ErrDivergentEvidence) {
		t.Errorf("tie: err = %v", err)
	}
	if _, err := q.Resolve(mk("a"), 3); !errors.Is(err, domain.ErrInsufficientObservations) {
		t.Errorf("too few: err = %v", err)
	}
	if got, err := (Quorum{}).Resolve(mk("a", "a", "b"), 3); err != nil || got != "a" {
		t.Errorf("default quorum: %q, %v", got, err)
	}
}

func TestCoordinatorAgreesAcrossNodes(t *testing.T) {
	board := NewLocalBoard(time.Hour)
	round := RoundKey(7, "news", time.Unix(600, 0))
	if round != "7:news:600" {
		t.Fatalf("round key = %q", round)
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewCoordinator(board, fmt.Sprintf("node-%d", i), Identical{}, 3, 2*time.Second, discardLogger())
			results[i], errs[i] = c.Agree(context.Background(), round, "same")
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil || results[i] != "same" {
			t.Errorf("node %d: %q, %v", i, results[i], errs[i])
		}
	}
}

func TestCoordinatorFailsClosedOnMissingPeers(t *testing.T) {
	c := NewCoordinator(NewLocalBoard(time.Hour), "node-0", Identical{}, 2, 20*time.Millisecond, discardLogger())
	_, err := c.Agree(context.Background(), "1:news:0", "alone")
	if !errors.Is(err, domain.ErrInsufficientObservations) {
		t.Errorf("err = %v, want insufficient observations", err)
	}
}

func TestAggregatorRejectsDivergentEvidence(t *testing.T) {
	board := NewLocalBoard(time.Hour)
	now := func() time.Time { return time.Unix(1_700_000_123, 0) }
	// A peer already reported different content for the same round.
	window := now().UTC().Truncate(10 * time.Minute)
	if err := board.Publish(context.Background(), RoundKey(5, "news", window), domain.Observation{NodeID: "peer", Content: "other"}); err != nil {
		t.Fatal(err)
	}

	coord := NewCoordinator(board, "me", Identical{}, 2, time.Second, discardLogger())
	a := NewAggregator([]Source{&stubSource{name: "news", content: "mine"}}, 10*time.Minute, discardLogger(),
		WithConsensus(coord), WithClock(now))

	if got := a.Gather(context.Background(), domain.Market{ID: 5, Question: "q"}); len(got) != 0 {
		t.Errorf("divergent evidence should be rejected, got %+v", got)
	}
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f.allow, nil
}

func (f fakeLimiter) Wait(ctx context.Context, key string) error { return nil }

func TestRateLimitedSource(t *testing.T) {
	inner := &stubSource{name: "news", content: "x"}
	limited := WithRateLimit(inner, fakeLimiter{allow: false}, 1, time.Second)

	_, err := limited.Fetch(context.Background(), Query{})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if inner.calls != 0 {
		t.Error("inner source should not be called when over budget")
	}

	if _, err := WithRateLimit(inner, fakeLimiter{allow: true}, 1, time.Second).Fetch(context.Background(), Query{}); err != nil {
		t.Errorf("allowed fetch failed: %v", err)
	}
}

// queueLimiter admits every Wait at once, or never when block is set.
type queueLimiter struct {
	block  bool
	waits  []string
	allows int
}

func (q *queueLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	q.allows++
	return false, nil
}

func (q *queueLimiter) Wait(ctx context.Context, key string) error {
	q.waits = append(q.waits, key)
	if q.block {
		<-ctx.Done()
		return fmt.Errorf("wait %s: %w", key, ctx.Err())
	}
	return nil
}

func TestRateLimitedSourceBlocking(t *testing.T) {
	inner := &stubSource{name: "news", content: "x"}
	limiter := &queueLimiter{}
	rec, err := WithRateLimit(inner, limiter, 1, time.Second).Blocking(time.Second).Fetch(context.Background(), Query{})
	if err != nil || rec.Content != "x" {
		t.Fatalf("Fetch = %+v, %v", rec, err)
	}
	if len(limiter.waits) != 1 || limiter.waits[0] != "evidence:news" || limiter.allows != 0 {
		t.Errorf("waits = %v, allows = %d; blocking mode should queue instead of Allow", limiter.waits, limiter.allows)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestRateLimitedSourceBlockingGivesUp(t *testing.T) {
	inner := &stubSource{name: "price", content: "x"}
	limited := WithRateLimit(inner, &queueLimiter{block: true}, 1, time.Second).Blocking(20 * time.Millisecond)

	_, err := limited.Fetch(context.Background(), Query{})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited after the wait budget", err)
	}
	if inner.calls != 0 {
		t.Error("inner source should not be called when the wait times out")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Fetch(ctx, Query{}); errors.Is(err, domain.ErrRateLimited) || err == nil {
		t.Errorf("canceled caller should see the cancellation, got %v", err)
	}
}
