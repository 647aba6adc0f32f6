// Package evidence gathers external context for a market question from
// pluggable sources and, with more than one node, agrees on it across nodes
// before it reaches the decision engine.
package evidence

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Query is what a source sees of a market. Window is the start of the
// current consensus window; sources that can pin their query to a point in
// time use it so every node asks the same question.
type Query struct {
	MarketID uint64
	Question string
	Outcomes []string
	Window   time.Time
}

// Source fetches one evidence record for a query. A source that has nothing
// to say about a question returns domain.ErrNotApplicable.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (domain.EvidenceRecord, error)
}

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 4 << 20

// getJSON performs a GET and returns the body of a 2xx response.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, snippet)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, snippet)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, snippet)
	}
}
