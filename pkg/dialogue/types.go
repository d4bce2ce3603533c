// Package dialogue implements the per-turn conversation loop: loading
// session state, parsing user feedback, recomputing hypotheses, asking
// the recommender for the next move, and producing a Response.
package dialogue

import (
	"github.com/dbincident/diagd/pkg/recommender"
	"github.com/dbincident/diagd/pkg/store"
)

// Kind classifies a Response for the transport layer.
type Kind string

const (
	KindRecommend      Kind = "recommend"
	KindDiagnosis      Kind = "diagnosis"
	KindAskInitialInfo Kind = "ask_initial_info"
	KindAskMoreInfo    Kind = "ask_more_info"
	KindError          Kind = "error"
)

// Response is what a turn hands back to the caller, whether that's the
// CLI, the WebSocket handler, or a test.
type Response struct {
	SessionID string                              `json:"session_id"`
	Kind      Kind                                 `json:"kind"`
	Message   string                               `json:"message,omitempty"`
	Phenomena []recommender.PhenomenonRecommendation `json:"phenomena,omitempty"`
	Hypothesis *store.Hypothesis                  `json:"hypothesis,omitempty"`
	Error     string                               `json:"error,omitempty"`
}

func errorResponse(sessionID string, err error) *Response {
	return &Response{SessionID: sessionID, Kind: KindError, Error: err.Error()}
}
