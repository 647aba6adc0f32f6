package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

const (
	newsSourceName = "news"
	newsConfidence = 0.8
	articleSep     = "\n\n---\n\n"
)

// NewsSource queries a NewsAPI-compatible /v2/everything endpoint with the
// market question.
type NewsSource struct {
	baseURL    string
	apiKey     string
	maxItems   int
	httpClient *http.Client
	now        func() time.Time
}

// NewNewsSource creates a news source. maxItems bounds the number of
// articles per record.
func NewNewsSource(baseURL, apiKey string, maxItems int, timeout time.Duration) *NewsSource {
	if maxItems <= 0 {
		maxItems = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NewsSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxItems:   maxItems,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Name implements Source.
func (n *NewsSource) Name() string { return newsSourceName }

type newsResponse struct {
	Status   string        `json:"status"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

// Fetch implements Source. Articles are formatted without publication times
// and the search is capped at q.Window so that repeated fetches within one
// window return the same text.
func (n *NewsSource) Fetch(ctx context.Context, q Query) (domain.EvidenceRecord, error) {
	if strings.TrimSpace(q.Question) == "" {
		return domain.EvidenceRecord{}, fmt.Errorf("news: %w: empty question", domain.ErrNotApplicable)
	}

	params := url.Values{}
	params.Set("q", q.Question)
	params.Set("sortBy", "relevancy")
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(n.maxItems))
	if !q.Window.IsZero() {
		params.Set("to", q.Window.UTC().Format(time.RFC3339))
	}

	header := http.Header{}
	header.Set("X-Api-Key", n.apiKey)

	body, err := getJSON(ctx, n.httpClient, n.baseURL+"/v2/everything?"+params.Encode(), header)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("news: %w", err)
	}

	var resp newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("news: decode: %w", err)
	}
	if resp.Status != "ok" {
		return domain.EvidenceRecord{}, fmt.Errorf("news: api status %q: %s %s", resp.Status, resp.Code, resp.Message)
	}
	if len(resp.Articles) == 0 {
		return domain.EvidenceRecord{}, errors.New("news: no articles")
	}

	return domain.EvidenceRecord{
		SourceName: newsSourceName,
		Content:    formatArticles(resp.Articles, n.maxItems),
		Confidence: newsConfidence,
		Timestamp:  n.now().UTC(),
	}, nil
}

func formatArticles(articles []newsArticle, max int) string {
	if len(articles) > max {
		articles = articles[:max]
	}
	parts := make([]string, 0, len(articles))
	for _, a := range articles {
		parts = append(parts, fmt.Sprintf("Source: %s\nTitle: %s\nDescription: %s",
			strings.TrimSpace(a.Source.Name),
			strings.TrimSpace(a.Title),
			strings.TrimSpace(a.Description),
		))
	}
	return strings.Join(parts, articleSep)
}
