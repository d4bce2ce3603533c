package indexbuilder

import (
	"context"
	"fmt"

	"github.com/dbincident/diagd/pkg/store"
)

type rawRootCause struct {
	text          string
	ticketIDs     []string
	firstSolution string
}

// buildRootCauses deduplicates root_cause_text by exact string match (in
// ticket order, which ListRawTickets already returns sorted by
// ticket_id), embeds and clusters the distinct texts, and canonicalizes
// each multi-member cluster's description and solution. Returns the
// built root causes and a map from every raw root_cause_text to the
// root cause id it resolved to.
func (b *Builder) buildRootCauses(ctx context.Context, tickets []store.RawTicket) ([]store.RootCause, map[string]string, error) {
	if len(tickets) == 0 {
		return nil, map[string]string{}, nil
	}

	var order []string
	byText := make(map[string]*rawRootCause)
	for _, t := range tickets {
		rc, ok := byText[t.RootCauseText]
		if !ok {
			rc = &rawRootCause{text: t.RootCauseText, firstSolution: t.Solution}
			byText[t.RootCauseText] = rc
			order = append(order, t.RootCauseText)
		}
		rc.ticketIDs = append(rc.ticketIDs, t.TicketID)
	}

	embeddings, err := b.embedder.Embed(ctx, order)
	if err != nil {
		return nil, nil, fmt.Errorf("embed root causes: %w", err)
	}

	items := make([]clusterItem, len(order))
	for i := range order {
		items[i] = clusterItem{embedding: embeddings[i], index: i}
	}
	clusters := greedyCluster(items, b.threshold)

	rootCauses := make([]store.RootCause, 0, len(clusters))
	textToRootCause := make(map[string]string, len(order))

	for i, c := range clusters {
		id := fmt.Sprintf("RC-%04d", i+1)

		descs := make([]string, len(c.members))
		solutions := make([]string, len(c.members))
		sourceTexts := make([]string, len(c.members))
		ticketCount := 0
		for j, idx := range c.members {
			text := order[idx]
			rc := byText[text]
			descs[j] = text
			solutions[j] = rc.firstSolution
			sourceTexts[j] = text
			ticketCount += len(rc.ticketIDs)
			textToRootCause[text] = id
		}

		description := descs[0]
		solution := solutions[0]
		if len(descs) > 1 {
			mergedDesc, err := b.canonicalize(ctx, rootCauseMergeSystemPrompt, mergeRootCauseDescriptionPrompt(descs))
			if err != nil {
				return nil, nil, fmt.Errorf("canonicalize root cause description %s: %w", id, err)
			}
			description = mergedDesc

			mergedSolution, err := b.canonicalize(ctx, solutionMergeSystemPrompt, mergeSolutionPrompt(solutions))
			if err != nil {
				return nil, nil, fmt.Errorf("canonicalize root cause solution %s: %w", id, err)
			}
			solution = mergedSolution
		}

		rootCauses = append(rootCauses, store.RootCause{
			ID:                 id,
			Description:        description,
			Solution:           solution,
			SourceRawRootCause: sourceTexts,
			ClusterSize:        len(c.members),
			TicketCount:        ticketCount,
			Embedding:          c.centroid,
		})
	}

	return rootCauses, textToRootCause, nil
}
