package responsegen

import (
	"fmt"
	"strings"

	"github.com/dbincident/diagd/pkg/store"
)

const systemPrompt = `You write the final diagnosis summary for a database-incident
troubleshooting conversation. Structure your response in Markdown with
exactly these four sections, in this order:

## Observed phenomena
## Reasoning chain
## Remediation
## Cited tickets

"Observed phenomena" lists what the user confirmed. "Reasoning chain"
explains briefly how those observations point to the root cause.
"Remediation" gives the fix. "Cited tickets" lists only ticket ids from
the supporting tickets provided — never invent a ticket id.`

func buildUserPrompt(session *store.SessionState, hypothesis store.Hypothesis, rc *store.RootCause, phenomena map[string]store.Phenomenon) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Root cause: %s (confidence %.2f)\n", rc.Description, hypothesis.Confidence)
	fmt.Fprintf(&b, "Solution: %s\n\n", rc.Solution)

	b.WriteString("Confirmed phenomena:\n")
	for _, c := range session.ConfirmedPhenomena {
		desc := c.PhenomenonID
		if p, ok := phenomena[c.PhenomenonID]; ok {
			desc = p.Description
		}
		summary := c.ResultSummary
		if summary == "" {
			summary = desc
		}
		fmt.Fprintf(&b, "- %s: %s\n", c.PhenomenonID, summary)
	}

	fmt.Fprintf(&b, "\nSupporting ticket ids: %s\n", strings.Join(hypothesis.SupportingTicketIDs, ", "))
	b.WriteString("\nOnly cite ticket ids from the supporting list above.")

	return b.String()
}
