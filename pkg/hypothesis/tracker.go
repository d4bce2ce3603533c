// Package hypothesis computes, for a session's current state, the
// ranked set of candidate root causes and their confidence. The
// tracker is stateless: every call reads the session and the
// knowledge store fresh and returns a new slice, never mutating
// either.
package hypothesis

import (
	"context"
	"fmt"
	"sort"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/retriever"
	"github.com/dbincident/diagd/pkg/store"
)

// Tracker computes active hypotheses for a session.
type Tracker struct {
	knowledge    *store.KnowledgeStore
	retriever    *retriever.Retriever
	topK         int
	retrievalTop int
}

// New constructs a Tracker.
func New(knowledge *store.KnowledgeStore, r *retriever.Retriever, cfg config.DialogueConfig) *Tracker {
	return &Tracker{knowledge: knowledge, retriever: r, topK: cfg.TopKHypotheses, retrievalTop: cfg.RetrievalTopK}
}

// ActiveHypotheses gathers candidate root causes, scores each by the
// deterministic confidence formula, and returns the top K by
// confidence descending.
func (t *Tracker) ActiveHypotheses(ctx context.Context, session *store.SessionState) ([]store.Hypothesis, error) {
	confirmed, denied := session.PhenomenonSet()

	candidatePhenomena := make(map[string]bool)
	for id := range confirmed {
		candidatePhenomena[id] = true
	}

	retrieved, err := t.retriever.Retrieve(ctx, session.UserProblem, t.retrievalTop, nil)
	if err != nil {
		return nil, fmt.Errorf("hypothesis: retrieve candidate phenomena: %w", err)
	}
	for _, m := range retrieved {
		candidatePhenomena[m.Phenomenon.ID] = true
	}
	for _, id := range session.HybridCandidatePhenomenonIDs {
		candidatePhenomena[id] = true
	}

	candidateRootCauses := make(map[string]bool)
	for phenomenonID := range candidatePhenomena {
		associations, err := t.knowledge.RootCausesForPhenomenon(ctx, phenomenonID)
		if err != nil {
			return nil, fmt.Errorf("hypothesis: root causes for phenomenon %s: %w", phenomenonID, err)
		}
		for _, a := range associations {
			candidateRootCauses[a.RootCauseID] = true
		}
	}

	if len(candidateRootCauses) == 0 {
		return nil, nil
	}

	hypotheses := make([]store.Hypothesis, 0, len(candidateRootCauses))
	for rootCauseID := range candidateRootCauses {
		h, err := t.scoreCandidate(ctx, rootCauseID, confirmed, denied)
		if err != nil {
			return nil, err
		}
		hypotheses = append(hypotheses, *h)
	}

	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].Confidence > hypotheses[j].Confidence
	})
	if len(hypotheses) > t.topK {
		hypotheses = hypotheses[:t.topK]
	}
	return hypotheses, nil
}

func (t *Tracker) scoreCandidate(ctx context.Context, rootCauseID string, confirmed, denied map[string]bool) (*store.Hypothesis, error) {
	rc, err := t.knowledge.GetRootCause(ctx, rootCauseID)
	if err != nil {
		return nil, fmt.Errorf("hypothesis: get root cause %s: %w", rootCauseID, err)
	}

	associations, err := t.knowledge.PhenomenaForRootCause(ctx, rootCauseID)
	if err != nil {
		return nil, fmt.Errorf("hypothesis: phenomena for root cause %s: %w", rootCauseID, err)
	}
	rP := make([]string, 0, len(associations))
	for _, a := range associations {
		rP = append(rP, a.PhenomenonID)
	}

	confirmedRelevant := 0
	deniedRelevant := 0
	var supportingPhenomenonIDs []string
	var missingPhenomena []string
	observed := 0
	for _, p := range rP {
		switch {
		case confirmed[p]:
			confirmedRelevant++
			observed++
			supportingPhenomenonIDs = append(supportingPhenomenonIDs, p)
		case denied[p]:
			deniedRelevant++
			observed++
		default:
			missingPhenomena = append(missingPhenomena, p)
		}
	}

	progress := 0.0
	if len(rP) > 0 {
		progress = float64(confirmedRelevant) / float64(max(len(rP), 1))
	}
	frequency := float64(observed) / 5
	if frequency > 1.0 {
		frequency = 1.0
	}
	relevance := 0.5
	if confirmedRelevant > 0 {
		relevance = 1.0
	}
	base := 0.6*progress + 0.2*frequency + 0.2*relevance
	penalty := float64(deniedRelevant) * 0.15
	if penalty > 0.9 {
		penalty = 0.9
	}
	confidence := base * (1 - penalty)
	confidence = clamp(confidence, 0, 1)

	supportingTicketIDs, err := t.supportingTickets(ctx, rootCauseID, supportingPhenomenonIDs)
	if err != nil {
		return nil, err
	}

	return &store.Hypothesis{
		RootCauseID:             rc.ID,
		RootCauseDescription:    rc.Description,
		Confidence:              confidence,
		SupportingPhenomenonIDs: supportingPhenomenonIDs,
		SupportingTicketIDs:     supportingTicketIDs,
		MissingPhenomena:        missingPhenomena,
	}, nil
}

// supportingTickets returns the deduplicated tickets where any
// confirmed supporting phenomenon co-occurred with this root cause —
// i.e. the ticket exhibited that phenomenon and ultimately resolved to rc.
func (t *Tracker) supportingTickets(ctx context.Context, rootCauseID string, supportingPhenomenonIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, phenomenonID := range supportingPhenomenonIDs {
		associations, err := t.knowledge.TicketsForPhenomenon(ctx, phenomenonID)
		if err != nil {
			return nil, fmt.Errorf("hypothesis: tickets for phenomenon %s: %w", phenomenonID, err)
		}
		for _, a := range associations {
			if seen[a.TicketID] {
				continue
			}
			ticket, err := t.knowledge.GetTicket(ctx, a.TicketID)
			if err != nil {
				return nil, fmt.Errorf("hypothesis: get ticket %s: %w", a.TicketID, err)
			}
			if ticket.RootCauseID != rootCauseID {
				continue
			}
			seen[a.TicketID] = true
			out = append(out, a.TicketID)
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
