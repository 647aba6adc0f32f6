package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

const (
	// PriceSourceName is the SourceName of price records.
	PriceSourceName = "price"
	priceConfidence = 0.95
	priceCurrency   = "usd"
)

type trackedCoin struct {
	id      string
	pattern *regexp.Regexp
}

// trackedCoins maps question mentions to CoinGecko ids. Order is the order
// lines appear in a price record.
var trackedCoins = []trackedCoin{
	{"bitcoin", regexp.MustCompile(`(?i)\b(btc|bitcoin)\b`)},
	{"ethereum", regexp.MustCompile(`(?i)\b(eth|ether|ethereum)\b`)},
	// The ticker only in capitals; "Mon" is usually a weekday.
	{"monad", regexp.MustCompile(`\bMON\b|(?i:\bmonad\b)`)},
}

// TrackedCoins returns the CoinGecko ids of the coins question mentions.
func TrackedCoins(question string) []string {
	var ids []string
	for _, c := range trackedCoins {
		if c.pattern.MatchString(question) {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// PriceSource reports spot prices from a CoinGecko-compatible simple/price
// endpoint for questions that mention a tracked coin.
type PriceSource struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewPriceSource creates a price source rooted at baseURL, e.g.
// "https://api.coingecko.com/api/v3".
func NewPriceSource(baseURL string, timeout time.Duration) *PriceSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Name implements Source.
func (p *PriceSource) Name() string { return PriceSourceName }

// Fetch implements Source. Content is one "<id>/usd: <price>" line per
// mentioned coin with two decimal places.
func (p *PriceSource) Fetch(ctx context.Context, q Query) (domain.EvidenceRecord, error) {
	ids := TrackedCoins(q.Question)
	if len(ids) == 0 {
		return domain.EvidenceRecord{}, fmt.Errorf("price: %w: no tracked coin in question", domain.ErrNotApplicable)
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", priceCurrency)

	body, err := getJSON(ctx, p.httpClient, p.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("price: %w", err)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("price: decode: %w", err)
	}

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		v, ok := prices[id][priceCurrency]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s/%s: %s", id, priceCurrency, v.StringFixed(2)))
	}
	if len(lines) == 0 {
		return domain.EvidenceRecord{}, fmt.Errorf("price: no quotes for %s", strings.Join(ids, ","))
	}

	return domain.EvidenceRecord{
		SourceName: PriceSourceName,
		Content:    strings.Join(lines, "\n"),
		Confidence: priceConfidence,
		Timestamp:  p.now().UTC(),
	}, nil
}

var priceLine = regexp.MustCompile(`^([a-z0-9-]+)/` + priceCurrency + `: ([0-9]+(?:\.[0-9]+)?)$`)

// ParsePrices extracts the quotes from a price record's content, keyed by
// CoinGecko id.
func ParsePrices(content string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, line := range strings.Split(content, "\n") {
		m := priceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		v, err := decimal.NewFromString(m[2])
		if err != nil {
			continue
		}
		out[m[1]] = v
	}
	return out
}
