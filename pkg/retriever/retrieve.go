package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/dbincident/diagd/pkg/store"
)

// Match pairs a phenomenon with its final rerank score.
type Match struct {
	Phenomenon store.Phenomenon
	Score      float64
}

// candidate is an intermediate result carrying enough information to
// rerank without a second trip to Postgres: chromem-go already
// returned the phenomenon's text in Metadata when it was indexed.
type candidate struct {
	phenomenon store.Phenomenon
	vectorSim  float64
}

// Retrieve maps a free-text query to a ranked list of phenomena. It
// embeds the query, takes the top vectorCandidates by cosine
// similarity, keyword-filters them, reranks the survivors, and returns
// the top_k by the rerank score.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, excludedIDs map[string]bool) ([]Match, error) {
	if r.phenomenaN == 0 {
		return nil, nil
	}

	queryEmbedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}

	n := clampTopN(vectorCandidates, r.phenomenaN)
	results, err := r.phenomena.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("retriever: vector query phenomena: %w", err)
	}

	candidates := make([]candidate, 0, len(results))
	for _, res := range results {
		candidates = append(candidates, candidate{
			phenomenon: store.Phenomenon{
				ID:                res.ID,
				Description:       res.Metadata["description"],
				ObservationMethod: res.Metadata["observation_method"],
			},
			vectorSim: float64(res.Similarity),
		})
	}

	tokens := salientTokens(query)
	survivors := candidates
	if len(tokens) > 0 {
		filtered := make([]candidate, 0, len(candidates))
		for _, c := range candidates {
			text := c.phenomenon.Description + " " + c.phenomenon.ObservationMethod
			if keywordHits(tokens, text) >= 1 {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) >= topK {
			survivors = filtered
		}
	}

	matches := make([]Match, 0, len(survivors))
	for _, c := range survivors {
		text := c.phenomenon.Description + " " + c.phenomenon.ObservationMethod
		novelty := 0.3
		if !excludedIDs[c.phenomenon.ID] {
			novelty = 1.0
		}
		score := 0.5*factCoverage(tokens, text) + 0.3*c.vectorSim + 0.2*novelty
		matches = append(matches, Match{Phenomenon: c.phenomenon, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// SearchByTicketDescription embeds query and returns the ids of the
// top_k tickets with the most similar description (Hyb only).
func (r *Retriever) SearchByTicketDescription(ctx context.Context, query string, topK int) ([]string, error) {
	if r.ticketsN == 0 {
		return nil, nil
	}

	queryEmbedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed ticket query: %w", err)
	}

	n := clampTopN(topK, r.ticketsN)
	results, err := r.tickets.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("retriever: vector query tickets: %w", err)
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.ID
	}
	return ids, nil
}

// GetPhenomenaByTicketIDs returns the deduplicated union of phenomena
// associated with any of the given tickets.
func (r *Retriever) GetPhenomenaByTicketIDs(ctx context.Context, ticketIDs []string) ([]store.Phenomenon, error) {
	seen := make(map[string]bool)
	var out []store.Phenomenon
	for _, ticketID := range ticketIDs {
		associations, err := r.knowledge.PhenomenaForTicket(ctx, ticketID)
		if err != nil {
			return nil, fmt.Errorf("retriever: phenomena for ticket %s: %w", ticketID, err)
		}
		for _, a := range associations {
			if seen[a.PhenomenonID] {
				continue
			}
			p, err := r.knowledge.GetPhenomenon(ctx, a.PhenomenonID)
			if err != nil {
				return nil, fmt.Errorf("retriever: get phenomenon %s: %w", a.PhenomenonID, err)
			}
			seen[a.PhenomenonID] = true
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
