// Package store implements the two persistence layers the diagnosis
// engine depends on: a PostgreSQL-backed knowledge store holding the
// raw and standardized ticket/phenomenon/root-cause tables, and a
// Redis-backed session store holding one opaque JSON blob per
// conversation. Both are hand-written against their driver directly —
// see DESIGN.md for why the knowledge store does not use ent codegen.
package store

import "time"

// RawTicket is one author-curated incident record, imported verbatim
// and never mutated in place.
type RawTicket struct {
	TicketID      string
	Description   string
	RootCauseText string
	Solution      string
	Metadata      []byte // opaque JSON
}

// RawAnomaly is one author-curated observation belonging to a ticket.
// ID is derived as "{ticket_id}_anomaly_{index}".
type RawAnomaly struct {
	ID                string
	TicketID          string
	Index             int
	Description       string
	ObservationMethod string
	WhyRelevant       string
}

// Phenomenon is a standardized cluster of semantically similar raw
// anomalies, built by the index builder.
type Phenomenon struct {
	ID                string
	Description       string
	ObservationMethod string
	SourceAnomalyIDs  []string
	ClusterSize       int
	Embedding         []float32
}

// RootCause is a standardized cluster of semantically similar raw
// root-cause texts, built by the index builder.
type RootCause struct {
	ID                 string
	Description        string
	Solution           string
	SourceRawRootCause []string
	ClusterSize        int
	TicketCount        int
	Embedding          []float32
}

// Ticket is the standardized, processed view of a RawTicket once its
// root cause has been resolved to a RootCause.
type Ticket struct {
	TicketID    string
	Description string
	RootCauseID string
	Solution    string
}

// TicketPhenomenon is the N:M association between a ticket and a
// phenomenon it was observed to exhibit.
type TicketPhenomenon struct {
	TicketID      string
	PhenomenonID  string
	WhyRelevant   string
	RawAnomalyID  string
}

// PhenomenonRootCause is the N:M association recording how many
// tickets exhibiting a given phenomenon resolved to a given root cause.
type PhenomenonRootCause struct {
	PhenomenonID string
	RootCauseID  string
	TicketCount  int
}

// RawRootCause is the deduplicated-but-not-yet-clustered intermediate
// produced while building RootCause rows.
type RawRootCause struct {
	Text            string
	SourceTicketIDs []string
	TicketCount     int
	Embedding       []float32
}

// SessionState is the entire per-conversation working memory,
// persisted as one JSON blob keyed by SessionID.
type SessionState struct {
	SessionID             string                 `json:"session_id"`
	UserProblem           string                 `json:"user_problem"`
	CreatedAt             time.Time              `json:"created_at"`
	ConfirmedPhenomena    []ConfirmedPhenomenon  `json:"confirmed_phenomena"`
	DeniedPhenomena       []DeniedPhenomenon     `json:"denied_phenomena"`
	RecommendedPhenomena  []RecommendedPhenomenon `json:"recommended_phenomena"`
	ActiveHypotheses      []Hypothesis           `json:"active_hypotheses"`
	DialogueHistory       []DialogueTurn         `json:"dialogue_history"`
	HybridCandidatePhenomenonIDs []string         `json:"hybrid_candidate_phenomenon_ids,omitempty"`
	NewObservations       []string               `json:"new_observations,omitempty"`
}

type ConfirmedPhenomenon struct {
	PhenomenonID  string    `json:"phenomenon_id"`
	ResultSummary string    `json:"result_summary"`
	Timestamp     time.Time `json:"timestamp"`
}

type DeniedPhenomenon struct {
	PhenomenonID string    `json:"phenomenon_id"`
	Timestamp    time.Time `json:"timestamp"`
}

type RecommendedPhenomenon struct {
	PhenomenonID string    `json:"phenomenon_id"`
	Turn         int       `json:"turn"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hypothesis is one candidate root cause under consideration in a
// session, recomputed from scratch every turn.
type Hypothesis struct {
	RootCauseID             string   `json:"root_cause_id"`
	RootCauseDescription    string   `json:"root_cause_description"`
	Confidence              float64  `json:"confidence"`
	SupportingPhenomenonIDs []string `json:"supporting_phenomenon_ids"`
	SupportingTicketIDs     []string `json:"supporting_ticket_ids"`
	MissingPhenomena        []string `json:"missing_phenomena"`
}

type DialogueTurn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PhenomenonSet returns the set of phenomenon IDs already confirmed or
// denied in this session — the two sets are mutually exclusive by
// construction.
func (s *SessionState) PhenomenonSet() (confirmed, denied map[string]bool) {
	confirmed = make(map[string]bool, len(s.ConfirmedPhenomena))
	denied = make(map[string]bool, len(s.DeniedPhenomena))
	for _, c := range s.ConfirmedPhenomena {
		confirmed[c.PhenomenonID] = true
	}
	for _, d := range s.DeniedPhenomena {
		denied[d.PhenomenonID] = true
	}
	return confirmed, denied
}

// RecommendedSet returns the set of phenomenon IDs already recommended
// at any prior turn in this session.
func (s *SessionState) RecommendedSet() map[string]bool {
	out := make(map[string]bool, len(s.RecommendedPhenomena))
	for _, r := range s.RecommendedPhenomena {
		out[r.PhenomenonID] = true
	}
	return out
}
