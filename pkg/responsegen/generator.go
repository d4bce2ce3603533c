// Package responsegen produces the final Markdown diagnosis summary
// once the recommender has emitted a terminal decision.
package responsegen

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/store"
)

// Generator builds the terminal diagnosis response.
type Generator struct {
	knowledge *store.KnowledgeStore
	chat      llmclient.ChatModel
}

// New constructs a Generator.
func New(knowledge *store.KnowledgeStore, chat llmclient.ChatModel) *Generator {
	return &Generator{knowledge: knowledge, chat: chat}
}

// Generate builds the Markdown summary for the given terminal
// hypothesis, post-filtering any ticket citation outside
// hypothesis.SupportingTicketIDs.
func (g *Generator) Generate(ctx context.Context, session *store.SessionState, hypothesis store.Hypothesis) (string, error) {
	rc, err := g.knowledge.GetRootCause(ctx, hypothesis.RootCauseID)
	if err != nil {
		return "", fmt.Errorf("responsegen: get root cause %s: %w", hypothesis.RootCauseID, err)
	}

	phenomena := make(map[string]store.Phenomenon, len(session.ConfirmedPhenomena))
	for _, c := range session.ConfirmedPhenomena {
		p, err := g.knowledge.GetPhenomenon(ctx, c.PhenomenonID)
		if err != nil {
			continue
		}
		phenomena[c.PhenomenonID] = *p
	}

	resp, err := g.chat.Chat(ctx, llmclient.ChatRequest{
		Messages: []llmclient.ChatMessage{
			{Role: llmclient.RoleSystem, Content: systemPrompt},
			{Role: llmclient.RoleUser, Content: buildUserPrompt(session, hypothesis, rc, phenomena)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("responsegen: generate summary: %w", err)
	}

	return filterCitations(resp.Text, hypothesis.SupportingTicketIDs), nil
}

var ticketCitationPattern = regexp.MustCompile(`(?m)^[-*]\s*([A-Za-z]+-\d+)\b.*$`)

// filterCitations removes any "Cited tickets" bullet line whose leading
// ticket id has the PREFIX-NUMBER shape (e.g. T-0001) and is not in
// allowed. Bullets whose id has any other shape (e.g. "t1") are not
// recognized as citations and are kept as they are.
func filterCitations(markdown string, allowed []string) string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}

	sections := splitCitedTicketsSection(markdown)
	if sections.citedStart < 0 {
		return markdown
	}

	before := markdown[:sections.citedStart]
	header := markdown[sections.citedStart:sections.bodyStart]
	body := markdown[sections.bodyStart:sections.bodyEnd]
	after := markdown[sections.bodyEnd:]

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		match := ticketCitationPattern.FindStringSubmatch(line)
		if match != nil && !allowedSet[match[1]] {
			continue
		}
		kept = append(kept, line)
	}

	return before + header + strings.Join(kept, "\n") + after
}

type citedSectionBounds struct {
	citedStart int
	bodyStart  int
	bodyEnd    int
}

var citedHeaderPattern = regexp.MustCompile(`(?im)^##\s*cited tickets\s*$`)
var nextHeaderPattern = regexp.MustCompile(`(?m)^##\s`)

func splitCitedTicketsSection(markdown string) citedSectionBounds {
	loc := citedHeaderPattern.FindStringIndex(markdown)
	if loc == nil {
		return citedSectionBounds{citedStart: -1}
	}
	bodyStart := loc[1]
	rest := markdown[bodyStart:]
	end := len(markdown)
	if nextLoc := nextHeaderPattern.FindStringIndex(rest); nextLoc != nil {
		end = bodyStart + nextLoc[0]
	}
	return citedSectionBounds{citedStart: loc[0], bodyStart: bodyStart, bodyEnd: end}
}
