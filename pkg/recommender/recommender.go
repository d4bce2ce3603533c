// Package recommender turns a session's active hypotheses into the
// dialogue manager's next move: recommend more phenomena to ask about,
// emit a diagnosis, or ask for more information. Like the hypothesis
// tracker, it is a pure function of its inputs.
package recommender

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/store"
)

// Decision is the recommender's verdict for one turn.
type Decision struct {
	Action       Action
	Phenomena    []PhenomenonRecommendation
	ForcedFloor  bool // true when a diagnosis was forced at the 0.50 floor rather than the 0.80 threshold
}

// Action enumerates the decision policy's possible outcomes.
type Action string

const (
	ActionAskInitialInfo Action = "ask_initial_info"
	ActionRecommend      Action = "recommend"
	ActionDiagnosis      Action = "diagnosis"
	ActionAskMoreInfo    Action = "ask_more_info"
)

// PhenomenonRecommendation is one recommended phenomenon with a
// human-readable reason for why it was chosen.
type PhenomenonRecommendation struct {
	Phenomenon store.Phenomenon
	Score      float64
	Reason     string
}

// Recommender computes the decision policy and phenomenon scoring for
// each turn.
type Recommender struct {
	knowledge          *store.KnowledgeStore
	diagnosisThreshold float64
	forcedFloor        float64
	topN               int
}

// New constructs a Recommender.
func New(knowledge *store.KnowledgeStore, cfg config.DialogueConfig) *Recommender {
	return &Recommender{
		knowledge:          knowledge,
		diagnosisThreshold: cfg.DiagnosisThreshold,
		forcedFloor:        cfg.ForcedDiagnosisFloor,
		topN:               cfg.TopNRecommendations,
	}
}

// Decide applies the decision policy to a session's freshly computed
// active hypotheses.
func (r *Recommender) Decide(ctx context.Context, session *store.SessionState, hypotheses []store.Hypothesis) (*Decision, error) {
	if len(hypotheses) == 0 {
		return &Decision{Action: ActionAskInitialInfo}, nil
	}

	top := hypotheses[0]
	if top.Confidence >= r.diagnosisThreshold {
		return &Decision{Action: ActionDiagnosis}, nil
	}

	phenomena, err := r.recommendPhenomena(ctx, session, hypotheses)
	if err != nil {
		return nil, err
	}
	if len(phenomena) > 0 {
		return &Decision{Action: ActionRecommend, Phenomena: phenomena}, nil
	}

	if top.Confidence >= r.forcedFloor {
		return &Decision{Action: ActionDiagnosis, ForcedFloor: true}, nil
	}
	return &Decision{Action: ActionAskMoreInfo}, nil
}

// recommendPhenomena scores candidate phenomena: the candidate set is
// every phenomenon associated with any active hypothesis, minus
// phenomena already confirmed or denied.
func (r *Recommender) recommendPhenomena(ctx context.Context, session *store.SessionState, hypotheses []store.Hypothesis) ([]PhenomenonRecommendation, error) {
	confirmed, denied := session.PhenomenonSet()

	// R_p per candidate phenomenon: the ordered subset of hypotheses
	// associated with it, together with the corresponding
	// PhenomenonRootCause row (for ticket_count).
	type support struct {
		hypothesisIdx int
		ticketCount   int
	}
	candidateSupport := make(map[string][]support)
	phenomenaByID := make(map[string]store.Phenomenon)

	maxTicketCount, err := r.knowledge.MaxPhenomenonRootCauseTicketCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("recommender: max phenomenon root cause ticket count: %w", err)
	}
	if maxTicketCount == 0 {
		maxTicketCount = 1
	}

	phenomenaOfHypothesis := make([]int, len(hypotheses))
	for i, h := range hypotheses {
		associations, err := r.knowledge.PhenomenaForRootCause(ctx, h.RootCauseID)
		if err != nil {
			return nil, fmt.Errorf("recommender: phenomena for root cause %s: %w", h.RootCauseID, err)
		}
		phenomenaOfHypothesis[i] = len(associations)
		for _, a := range associations {
			if confirmed[a.PhenomenonID] || denied[a.PhenomenonID] {
				continue
			}
			candidateSupport[a.PhenomenonID] = append(candidateSupport[a.PhenomenonID], support{hypothesisIdx: i, ticketCount: a.TicketCount})
			if _, ok := phenomenaByID[a.PhenomenonID]; !ok {
				p, err := r.knowledge.GetPhenomenon(ctx, a.PhenomenonID)
				if err != nil {
					return nil, fmt.Errorf("recommender: get phenomenon %s: %w", a.PhenomenonID, err)
				}
				phenomenaByID[a.PhenomenonID] = *p
			}
		}
	}

	var top1Confirmed, top1Total int
	if len(hypotheses) > 0 {
		top1Total = phenomenaOfHypothesis[0]
		top1Confirmed = len(hypotheses[0].SupportingPhenomenonIDs)
	}

	recs := make([]PhenomenonRecommendation, 0, len(candidateSupport))
	for phenomenonID, supports := range candidateSupport {
		allAssociations, err := r.knowledge.RootCausesForPhenomenon(ctx, phenomenonID)
		if err != nil {
			return nil, fmt.Errorf("recommender: root causes for phenomenon %s: %w", phenomenonID, err)
		}
		popularity := 0.0
		for _, a := range allAssociations {
			v := float64(a.TicketCount) / float64(maxTicketCount)
			if v > popularity {
				popularity = v
			}
		}

		specificity := 1.0 / float64(len(supports))

		hypothesisPriority := 0.0
		argmaxIdx := supports[0].hypothesisIdx
		for _, s := range supports {
			v := hypotheses[s.hypothesisIdx].Confidence * (0.7 + 0.3*math.Sqrt(float64(s.ticketCount)/float64(maxTicketCount)))
			if v > hypothesisPriority {
				hypothesisPriority = v
				argmaxIdx = s.hypothesisIdx
			}
		}

		inTop := containsIdx(supports, 0)
		confirmationGain := 0.0
		if inTop && top1Total > 0 {
			confirmationGain = 1 - float64(top1Confirmed)/float64(top1Total)
		}

		discrimination := 0.0
		if len(hypotheses) >= 2 {
			in1 := containsIdx(supports, 0)
			in2 := containsIdx(supports, 1)
			switch {
			case in1 && !in2:
				discrimination = 1.0
			case !in1 && in2:
				discrimination = 0.8
			case in1 && in2:
				discrimination = 0.2
			default:
				discrimination = 0.1
			}
		}

		informationGain := 0.6*confirmationGain + 0.4*discrimination
		score := 0.15*popularity + 0.20*specificity + 0.40*hypothesisPriority + 0.25*informationGain

		recs = append(recs, PhenomenonRecommendation{
			Phenomenon: phenomenaByID[phenomenonID],
			Score:      score,
			Reason:     fmt.Sprintf("most supports hypothesis %q", hypotheses[argmaxIdx].RootCauseDescription),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > r.topN {
		recs = recs[:r.topN]
	}
	return recs, nil
}

func containsIdx(supports []struct {
	hypothesisIdx int
	ticketCount   int
}, idx int) bool {
	for _, s := range supports {
		if s.hypothesisIdx == idx {
			return true
		}
	}
	return false
}
