package decision

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/evidence"
)

var (
	targetPattern  = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)(?:([kKmM])\b)?`)
	belowPattern   = regexp.MustCompile(`(?i)\b(below|under|less than|drop|fall|dip)\b`)
	thousand       = decimal.NewFromInt(1_000)
	million        = decimal.NewFromInt(1_000_000)
	ruleConfidence = 0.95
)

// parseTarget returns the first dollar amount in question.
func parseTarget(question string) (decimal.Decimal, bool) {
	m := targetPattern.FindStringSubmatch(question)
	if m == nil {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Decimal{}, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v = v.Mul(thousand)
	case "m":
		v = v.Mul(million)
	}
	return v, true
}

// priceRule settles Yes/No price-threshold questions directly from price
// evidence. It applies only when the question names exactly one tracked
// coin and a dollar target and a price record for that coin is present.
func priceRule(m domain.Market, records []domain.EvidenceRecord) (domain.Decision, bool) {
	yes, no := m.OutcomeIndex("Yes"), m.OutcomeIndex("No")
	if yes < 0 || no < 0 || !strings.Contains(m.Question, "$") {
		return domain.Decision{}, false
	}
	coins := evidence.TrackedCoins(m.Question)
	if len(coins) != 1 {
		return domain.Decision{}, false
	}
	target, ok := parseTarget(m.Question)
	if !ok || !target.IsPositive() {
		return domain.Decision{}, false
	}

	var price decimal.Decimal
	found := false
	for _, r := range records {
		if r.SourceName != evidence.PriceSourceName {
			continue
		}
		if p, ok := evidence.ParsePrices(r.Content)[coins[0]]; ok {
			price, found = p, true
			break
		}
	}
	if !found {
		return domain.Decision{}, false
	}

	above := price.GreaterThanOrEqual(target)
	cmp := ">="
	if !above {
		cmp = "<"
	}
	won := above
	if belowPattern.MatchString(m.Question) {
		won = !above
	}

	idx := no
	if won {
		idx = yes
	}
	return domain.Decision{
		MarketID:     m.ID,
		Outcome:      m.Outcomes[idx],
		OutcomeIndex: idx,
		Confidence:   ruleConfidence,
		Reasoning:    fmt.Sprintf("%s/usd %s %s target %s", coins[0], price.StringFixed(2), cmp, target.StringFixed(2)),
		Method:       domain.MethodPriceRule,
	}, true
}
