package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// answer is the model's reply.
type answer struct {
	Outcome    string    `json:"outcome"`
	Confidence flexFloat `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
}

// flexFloat accepts a JSON number or a numeric string, as a fraction or a
// percentage.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("confidence %s: %w", b, err)
	}
	// "85%" and a bare 85 are both percentages.
	if strings.HasSuffix(strings.Trim(string(b), `"`), "%") || (v > 1 && v <= 100) {
		v /= 100
	}
	*f = flexFloat(v)
	return nil
}

// parseAnswer extracts the JSON object from raw, tolerating prose or code
// fences around it.
func parseAnswer(raw string) (answer, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return answer{}, errNoJSON
	}

	var a answer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return answer{}, fmt.Errorf("decode response: %w", err)
	}
	a.Outcome = strings.TrimSpace(a.Outcome)
	a.Reasoning = strings.TrimSpace(a.Reasoning)
	if a.Outcome == "" {
		return answer{}, errors.New("response has no outcome")
	}
	return a, nil
}
