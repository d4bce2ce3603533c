package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/diagerr"
	"github.com/dbincident/diagd/pkg/hypothesis"
	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/recommender"
	"github.com/dbincident/diagd/pkg/responsegen"
	"github.com/dbincident/diagd/pkg/retriever"
	"github.com/dbincident/diagd/pkg/store"
)

// hybridSearchTopK is the search_by_ticket_description top_k used by
// the hybrid-only candidate-seeding calls.
const hybridSearchTopK = 5

// Manager runs the turn loop: load session, parse feedback, recompute
// hypotheses, ask the recommender, optionally generate the terminal
// response, persist.
type Manager struct {
	sessions    *store.SessionStore
	retriever   *retriever.Retriever
	tracker     *hypothesis.Tracker
	recommender *recommender.Recommender
	responsegen *responsegen.Generator
	chat        llmclient.ChatModel
	hybrid      bool
	turnBudget  time.Duration
	locks       *sessionLocks
}

// New constructs a Manager. hybrid selects whether the Hyb-only
// retrieval-seeding step and the LLM slow-path feedback fallback (used
// when neither fast path recognizes the message) run.
func New(
	sessions *store.SessionStore,
	r *retriever.Retriever,
	tracker *hypothesis.Tracker,
	rec *recommender.Recommender,
	gen *responsegen.Generator,
	chat llmclient.ChatModel,
	cfg config.DialogueConfig,
	hybrid bool,
) *Manager {
	return &Manager{
		sessions:    sessions,
		retriever:   r,
		tracker:     tracker,
		recommender: rec,
		responsegen: gen,
		chat:        chat,
		hybrid:      hybrid,
		turnBudget:  cfg.TurnBudget,
		locks:       newSessionLocks(),
	}
}

// StartConversation opens a new session from the user's initial problem
// description and runs the first turn.
func (m *Manager) StartConversation(ctx context.Context, userProblem string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.turnBudget)
	defer cancel()

	session, err := m.sessions.Create(ctx, userProblem)
	if err != nil {
		return nil, fmt.Errorf("dialogue: create session: %w", err)
	}
	session.DialogueHistory = append(session.DialogueHistory, store.DialogueTurn{
		Role: "user", Content: userProblem, Timestamp: time.Now(),
	})

	if m.hybrid {
		if err := m.seedHybridCandidates(ctx, session, userProblem); err != nil {
			return errorResponse(session.SessionID, fmt.Errorf("dialogue: seed hybrid candidates: %w", err)), nil
		}
	}

	resp, _ := m.runTurn(ctx, session)
	return resp, nil
}

// ContinueConversation runs the next turn of an existing session,
// serialized per session id so two turns on the same session never
// interleave.
func (m *Manager) ContinueConversation(ctx context.Context, sessionID, userMessage string) (*Response, error) {
	var result *Response
	err := m.locks.withLock(sessionID, func() error {
		turnCtx, cancel := context.WithTimeout(ctx, m.turnBudget)
		defer cancel()

		session, err := m.sessions.Get(turnCtx, sessionID)
		if err != nil {
			if diagerr.ClassifyOf(err) == diagerr.KindNotFound {
				result = &Response{SessionID: sessionID, Kind: KindError, Error: err.Error()}
				return nil
			}
			return err
		}

		pending := pendingPhenomena(session)
		feedback, err := parseFeedback(turnCtx, m.chat, userMessage, pending, m.hybrid)
		if err != nil {
			result = errorResponse(sessionID, err)
			return nil
		}
		if err := applyFeedback(session, feedback); err != nil {
			result = errorResponse(sessionID, err)
			return nil
		}

		if m.hybrid && len(feedback.NewObservations) > 0 {
			if err := m.seedHybridCandidates(turnCtx, session, strings.Join(feedback.NewObservations, " ")); err != nil {
				result = errorResponse(sessionID, err)
				return nil
			}
		}

		session.DialogueHistory = append(session.DialogueHistory, store.DialogueTurn{
			Role: "user", Content: userMessage, Timestamp: time.Now(),
		})

		resp, _ := m.runTurn(turnCtx, session)
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runTurn recomputes hypotheses, asks the recommender, optionally
// generates the terminal response, then persists — the shared tail of
// both start_conversation and continue_conversation. It never persists
// a partially advanced session: on any failure it returns kind=error
// without calling Save, so retrying the identical message is safe.
func (m *Manager) runTurn(ctx context.Context, session *store.SessionState) (*Response, bool) {
	hypotheses, err := m.tracker.ActiveHypotheses(ctx, session)
	if err != nil {
		return errorResponse(session.SessionID, fmt.Errorf("dialogue: compute hypotheses: %w", err)), false
	}
	session.ActiveHypotheses = hypotheses

	decision, err := m.recommender.Decide(ctx, session, hypotheses)
	if err != nil {
		return errorResponse(session.SessionID, fmt.Errorf("dialogue: recommend: %w", err)), false
	}

	resp := &Response{SessionID: session.SessionID}

	switch decision.Action {
	case recommender.ActionAskInitialInfo:
		resp.Kind = KindAskInitialInfo
		resp.Message = "Tell me more about what you're observing so I can start narrowing down the cause."
	case recommender.ActionAskMoreInfo:
		resp.Kind = KindAskMoreInfo
		resp.Message = "I don't have enough signal yet — can you describe any other symptoms you're seeing?"
	case recommender.ActionRecommend:
		resp.Kind = KindRecommend
		resp.Phenomena = decision.Phenomena
		resp.Message = formatRecommendation(decision.Phenomena)
		recordRecommendation(session, decision.Phenomena)
	case recommender.ActionDiagnosis:
		resp.Kind = KindDiagnosis
		top := hypotheses[0]
		resp.Hypothesis = &top
		message, err := m.responsegen.Generate(ctx, session, top)
		if err != nil {
			return errorResponse(session.SessionID, fmt.Errorf("dialogue: generate response: %w", err)), false
		}
		resp.Message = message
	}

	session.DialogueHistory = append(session.DialogueHistory, store.DialogueTurn{
		Role: "assistant", Content: resp.Message, Timestamp: time.Now(),
	})

	if err := m.sessions.Save(ctx, session); err != nil {
		return errorResponse(session.SessionID, fmt.Errorf("dialogue: persist session: %w", err)), false
	}

	slog.Info("dialogue turn completed", "session_id", session.SessionID, "action", decision.Action)
	return resp, true
}

// seedHybridCandidates implements the Hyb-only phenomenon-seeding used
// by both start_conversation step 2 and continue_conversation step 3:
// resolve a free-text query to tickets, then to the phenomena those
// tickets exhibited, unioned (deduped) into the session's hybrid
// candidate set.
func (m *Manager) seedHybridCandidates(ctx context.Context, session *store.SessionState, query string) error {
	ticketIDs, err := m.retriever.SearchByTicketDescription(ctx, query, hybridSearchTopK)
	if err != nil {
		return fmt.Errorf("search by ticket description: %w", err)
	}
	phenomena, err := m.retriever.GetPhenomenaByTicketIDs(ctx, ticketIDs)
	if err != nil {
		return fmt.Errorf("get phenomena by ticket ids: %w", err)
	}

	existing := make(map[string]bool, len(session.HybridCandidatePhenomenonIDs))
	for _, id := range session.HybridCandidatePhenomenonIDs {
		existing[id] = true
	}
	for _, p := range phenomena {
		if !existing[p.ID] {
			session.HybridCandidatePhenomenonIDs = append(session.HybridCandidatePhenomenonIDs, p.ID)
			existing[p.ID] = true
		}
	}
	return nil
}

func formatRecommendation(phenomena []recommender.PhenomenonRecommendation) string {
	var b strings.Builder
	b.WriteString("Can you tell me whether you're observing any of the following?\n")
	for i, p := range phenomena {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, p.Phenomenon.Description, p.Reason)
	}
	return b.String()
}

// recordRecommendation appends this turn's recommended phenomena to the
// session's history, so the next message's fast-path batch form can
// resolve its numeric indices against them.
func recordRecommendation(session *store.SessionState, phenomena []recommender.PhenomenonRecommendation) {
	turn := nextTurn(session)
	for _, p := range phenomena {
		session.RecommendedPhenomena = append(session.RecommendedPhenomena, store.RecommendedPhenomenon{
			PhenomenonID: p.Phenomenon.ID, Turn: turn, Timestamp: time.Now(),
		})
	}
}

func nextTurn(session *store.SessionState) int {
	max := 0
	for _, r := range session.RecommendedPhenomena {
		if r.Turn > max {
			max = r.Turn
		}
	}
	if len(session.RecommendedPhenomena) == 0 {
		return 0
	}
	return max + 1
}

// pendingPhenomena returns the phenomenon ids recommended at the most
// recent turn that have not yet been confirmed or denied, in the order
// they were presented — this is what the fast-path batch form's numeric
// indices refer to.
func pendingPhenomena(session *store.SessionState) []string {
	if len(session.RecommendedPhenomena) == 0 {
		return nil
	}
	latest := session.RecommendedPhenomena[0].Turn
	for _, r := range session.RecommendedPhenomena {
		if r.Turn > latest {
			latest = r.Turn
		}
	}

	confirmed, denied := session.PhenomenonSet()
	var pending []string
	for _, r := range session.RecommendedPhenomena {
		if r.Turn != latest {
			continue
		}
		if confirmed[r.PhenomenonID] || denied[r.PhenomenonID] {
			continue
		}
		pending = append(pending, r.PhenomenonID)
	}
	return pending
}

// applyFeedback mutates the session's confirmed/denied sets, rejecting
// any attempt to both confirm and deny the same phenomenon in one
// message.
func applyFeedback(session *store.SessionState, feedback *feedbackResult) error {
	confirmedSet := make(map[string]bool, len(feedback.Confirmed))
	for _, id := range feedback.Confirmed {
		confirmedSet[id] = true
	}
	for _, id := range feedback.Denied {
		if confirmedSet[id] {
			return diagerr.New(diagerr.KindInvariantViolation, "phenomenon "+id+" both confirmed and denied in the same message")
		}
	}

	now := time.Now()
	existingConfirmed, existingDenied := session.PhenomenonSet()
	for _, id := range feedback.Confirmed {
		if existingConfirmed[id] || existingDenied[id] {
			continue
		}
		session.ConfirmedPhenomena = append(session.ConfirmedPhenomena, store.ConfirmedPhenomenon{
			PhenomenonID: id, Timestamp: now,
		})
	}
	for _, id := range feedback.Denied {
		if existingConfirmed[id] || existingDenied[id] {
			continue
		}
		session.DeniedPhenomena = append(session.DeniedPhenomena, store.DeniedPhenomenon{
			PhenomenonID: id, Timestamp: now,
		})
	}
	session.NewObservations = append(session.NewObservations, feedback.NewObservations...)
	return nil
}
