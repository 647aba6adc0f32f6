package decision

import (
	"fmt"
	"strings"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// NoContextMarker stands in for the evidence section when nothing was
// gathered, so the model is told explicitly rather than left to guess.
const NoContextMarker = "No external context available."

const systemPrompt = `You are the settlement oracle for a prediction market. ` +
	`Given a market question, its exact list of possible outcomes and the evidence gathered, ` +
	`choose the single outcome that best reflects what actually happened. ` +
	`Reply with a JSON object only.`

const strictSystemPrompt = systemPrompt + ` ` +
	`Your previous reply was rejected. The "outcome" field MUST be copied character for character ` +
	`from the list of possible outcomes. Do not add any text outside the JSON object.`

const responseInstruction = `Respond with a JSON object of the form ` +
	`{"outcome": "<one of the possible outcomes>", "confidence": <number from 0 to 1>, "reasoning": "<one or two sentences>"}`

// buildPrompt renders the user prompt for m. The same market and evidence
// always render the same text.
func buildPrompt(m domain.Market, evidence []domain.EvidenceRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n\n", strings.TrimSpace(m.Question))

	b.WriteString("Possible outcomes (answer with exactly one, spelled exactly as listed):\n")
	for i, o := range m.Outcomes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}

	b.WriteString("\nEvidence:\n")
	if len(evidence) == 0 {
		b.WriteString(NoContextMarker)
		b.WriteString("\n")
	} else {
		for i, e := range evidence {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "[%s] (confidence %.2f)\n%s\n", e.SourceName, e.Confidence, strings.TrimSpace(e.Content))
		}
	}

	b.WriteString("\n")
	b.WriteString(responseInstruction)
	return b.String()
}

// strictPrompt is buildPrompt plus a reminder of the accepted values.
func strictPrompt(m domain.Market, evidence []domain.EvidenceRecord) string {
	quoted := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		quoted[i] = fmt.Sprintf("%q", o)
	}
	return buildPrompt(m, evidence) +
		"\n\nThe \"outcome\" value must be exactly one of: " + strings.Join(quoted, ", ") + "."
}
