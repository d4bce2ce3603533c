package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// KnowledgeStore is the PostgreSQL-backed repository for both the raw
// (author-curated) and standardized (built) tables. It replaces the
// generated ent client with hand-written SQL (see DESIGN.md).
type KnowledgeStore struct {
	db *sql.DB
}

// NewKnowledgeStore wraps an already-migrated PostgresClient.
func NewKnowledgeStore(client *PostgresClient) *KnowledgeStore {
	return &KnowledgeStore{db: client.DB()}
}

// ImportRawTicket appends one ticket to the raw table. Raw tables are
// append-only; callers that need to replace a ticket should import a
// fresh corpus instead.
func (s *KnowledgeStore) ImportRawTicket(ctx context.Context, t RawTicket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_tickets (ticket_id, description, root_cause_text, solution, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket_id) DO UPDATE SET
			description = EXCLUDED.description,
			root_cause_text = EXCLUDED.root_cause_text,
			solution = EXCLUDED.solution,
			metadata = EXCLUDED.metadata
	`, t.TicketID, t.Description, t.RootCauseText, t.Solution, nonNilJSON(t.Metadata))
	return classifyPGErr(err, "import raw ticket")
}

// ImportRawAnomaly appends one anomaly to the raw table.
func (s *KnowledgeStore) ImportRawAnomaly(ctx context.Context, a RawAnomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_anomalies (id, ticket_id, index, description, observation_method, why_relevant)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			observation_method = EXCLUDED.observation_method,
			why_relevant = EXCLUDED.why_relevant
	`, a.ID, a.TicketID, a.Index, a.Description, a.ObservationMethod, a.WhyRelevant)
	return classifyPGErr(err, "import raw anomaly")
}

// ListRawTickets returns every raw ticket in ticket_id lexicographic
// order, the deterministic iteration order the index builder requires.
func (s *KnowledgeStore) ListRawTickets(ctx context.Context) ([]RawTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, description, root_cause_text, solution, metadata
		FROM raw_tickets ORDER BY ticket_id
	`)
	if err != nil {
		return nil, classifyPGErr(err, "list raw tickets")
	}
	defer rows.Close()

	var out []RawTicket
	for rows.Next() {
		var t RawTicket
		if err := rows.Scan(&t.TicketID, &t.Description, &t.RootCauseText, &t.Solution, &t.Metadata); err != nil {
			return nil, classifyPGErr(err, "scan raw ticket")
		}
		out = append(out, t)
	}
	return out, classifyPGErr(rows.Err(), "list raw tickets")
}

// ListRawAnomalies returns every raw anomaly ordered by (ticket_id,
// index) — the deterministic (ticket_id, index) lexicographic order
// the clustering pass iterates in.
func (s *KnowledgeStore) ListRawAnomalies(ctx context.Context) ([]RawAnomaly, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, index, description, observation_method, why_relevant
		FROM raw_anomalies ORDER BY ticket_id, index
	`)
	if err != nil {
		return nil, classifyPGErr(err, "list raw anomalies")
	}
	defer rows.Close()

	var out []RawAnomaly
	for rows.Next() {
		var a RawAnomaly
		if err := rows.Scan(&a.ID, &a.TicketID, &a.Index, &a.Description, &a.ObservationMethod, &a.WhyRelevant); err != nil {
			return nil, classifyPGErr(err, "scan raw anomaly")
		}
		out = append(out, a)
	}
	return out, classifyPGErr(rows.Err(), "list raw anomalies")
}

// GetPhenomenon looks up one standardized phenomenon by id.
func (s *KnowledgeStore) GetPhenomenon(ctx context.Context, id string) (*Phenomenon, error) {
	var p Phenomenon
	var emb []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, observation_method, source_anomaly_ids, cluster_size, embedding
		FROM phenomena WHERE id = $1
	`, id).Scan(&p.ID, &p.Description, &p.ObservationMethod, pq.Array(&p.SourceAnomalyIDs), &p.ClusterSize, &emb)
	if err != nil {
		return nil, classifyPGErr(err, "get phenomenon")
	}
	p.Embedding = decodeEmbedding(emb)
	return &p, nil
}

// ListPhenomena returns every standardized phenomenon, in id order.
func (s *KnowledgeStore) ListPhenomena(ctx context.Context) ([]Phenomenon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, observation_method, source_anomaly_ids, cluster_size, embedding
		FROM phenomena ORDER BY id
	`)
	if err != nil {
		return nil, classifyPGErr(err, "list phenomena")
	}
	defer rows.Close()

	var out []Phenomenon
	for rows.Next() {
		var p Phenomenon
		var emb []byte
		if err := rows.Scan(&p.ID, &p.Description, &p.ObservationMethod, pq.Array(&p.SourceAnomalyIDs), &p.ClusterSize, &emb); err != nil {
			return nil, classifyPGErr(err, "scan phenomenon")
		}
		p.Embedding = decodeEmbedding(emb)
		out = append(out, p)
	}
	return out, classifyPGErr(rows.Err(), "list phenomena")
}

// GetRootCause looks up one standardized root cause by id.
func (s *KnowledgeStore) GetRootCause(ctx context.Context, id string) (*RootCause, error) {
	var rc RootCause
	var emb []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, solution, source_raw_root_cause, cluster_size, ticket_count, embedding
		FROM root_causes WHERE id = $1
	`, id).Scan(&rc.ID, &rc.Description, &rc.Solution, pq.Array(&rc.SourceRawRootCause), &rc.ClusterSize, &rc.TicketCount, &emb)
	if err != nil {
		return nil, classifyPGErr(err, "get root cause")
	}
	rc.Embedding = decodeEmbedding(emb)
	return &rc, nil
}

// ListRootCauses returns every standardized root cause, in id order.
func (s *KnowledgeStore) ListRootCauses(ctx context.Context) ([]RootCause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, solution, source_raw_root_cause, cluster_size, ticket_count, embedding
		FROM root_causes ORDER BY id
	`)
	if err != nil {
		return nil, classifyPGErr(err, "list root causes")
	}
	defer rows.Close()

	var out []RootCause
	for rows.Next() {
		var rc RootCause
		var emb []byte
		if err := rows.Scan(&rc.ID, &rc.Description, &rc.Solution, pq.Array(&rc.SourceRawRootCause), &rc.ClusterSize, &rc.TicketCount, &emb); err != nil {
			return nil, classifyPGErr(err, "scan root cause")
		}
		rc.Embedding = decodeEmbedding(emb)
		out = append(out, rc)
	}
	return out, classifyPGErr(rows.Err(), "list root causes")
}

// GetTicket looks up one standardized ticket by id.
func (s *KnowledgeStore) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	var t Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, description, root_cause_id, solution
		FROM tickets WHERE ticket_id = $1
	`, ticketID).Scan(&t.TicketID, &t.Description, &t.RootCauseID, &t.Solution)
	if err != nil {
		return nil, classifyPGErr(err, "get ticket")
	}
	return &t, nil
}

// ListTickets returns every standardized ticket, in ticket_id order —
// the source the retriever embeds for ticket-description search.
func (s *KnowledgeStore) ListTickets(ctx context.Context) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, description, root_cause_id, solution
		FROM tickets ORDER BY ticket_id
	`)
	if err != nil {
		return nil, classifyPGErr(err, "list tickets")
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.TicketID, &t.Description, &t.RootCauseID, &t.Solution); err != nil {
			return nil, classifyPGErr(err, "scan ticket")
		}
		out = append(out, t)
	}
	return out, classifyPGErr(rows.Err(), "list tickets")
}

// PhenomenaForTicket returns the phenomena a ticket was observed to
// exhibit, along with the why_relevant annotation for each.
func (s *KnowledgeStore) PhenomenaForTicket(ctx context.Context, ticketID string) ([]TicketPhenomenon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, phenomenon_id, why_relevant, raw_anomaly_id
		FROM ticket_phenomena WHERE ticket_id = $1 ORDER BY phenomenon_id
	`, ticketID)
	if err != nil {
		return nil, classifyPGErr(err, "phenomena for ticket")
	}
	defer rows.Close()

	var out []TicketPhenomenon
	for rows.Next() {
		var tp TicketPhenomenon
		if err := rows.Scan(&tp.TicketID, &tp.PhenomenonID, &tp.WhyRelevant, &tp.RawAnomalyID); err != nil {
			return nil, classifyPGErr(err, "scan ticket phenomenon")
		}
		out = append(out, tp)
	}
	return out, classifyPGErr(rows.Err(), "phenomena for ticket")
}

// TicketsForPhenomenon returns the tickets exhibiting a given
// phenomenon.
func (s *KnowledgeStore) TicketsForPhenomenon(ctx context.Context, phenomenonID string) ([]TicketPhenomenon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, phenomenon_id, why_relevant, raw_anomaly_id
		FROM ticket_phenomena WHERE phenomenon_id = $1 ORDER BY ticket_id
	`, phenomenonID)
	if err != nil {
		return nil, classifyPGErr(err, "tickets for phenomenon")
	}
	defer rows.Close()

	var out []TicketPhenomenon
	for rows.Next() {
		var tp TicketPhenomenon
		if err := rows.Scan(&tp.TicketID, &tp.PhenomenonID, &tp.WhyRelevant, &tp.RawAnomalyID); err != nil {
			return nil, classifyPGErr(err, "scan ticket phenomenon")
		}
		out = append(out, tp)
	}
	return out, classifyPGErr(rows.Err(), "tickets for phenomenon")
}

// RootCausesForPhenomenon returns the PhenomenonRootCause associations
// for a given phenomenon, each naming a root cause it supports and how
// many tickets exhibit that combination.
func (s *KnowledgeStore) RootCausesForPhenomenon(ctx context.Context, phenomenonID string) ([]PhenomenonRootCause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phenomenon_id, root_cause_id, ticket_count
		FROM phenomenon_root_causes WHERE phenomenon_id = $1 ORDER BY root_cause_id
	`, phenomenonID)
	if err != nil {
		return nil, classifyPGErr(err, "root causes for phenomenon")
	}
	defer rows.Close()

	var out []PhenomenonRootCause
	for rows.Next() {
		var prc PhenomenonRootCause
		if err := rows.Scan(&prc.PhenomenonID, &prc.RootCauseID, &prc.TicketCount); err != nil {
			return nil, classifyPGErr(err, "scan phenomenon root cause")
		}
		out = append(out, prc)
	}
	return out, classifyPGErr(rows.Err(), "root causes for phenomenon")
}

// MaxPhenomenonRootCauseTicketCount returns the largest ticket_count
// across every PhenomenonRootCause row in the corpus, or 0 if the
// standardized tables are empty.
func (s *KnowledgeStore) MaxPhenomenonRootCauseTicketCount(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ticket_count) FROM phenomenon_root_causes`).Scan(&max)
	if err != nil {
		return 0, classifyPGErr(err, "max phenomenon root cause ticket count")
	}
	return int(max.Int64), nil
}

// PhenomenaForRootCause returns the PhenomenonRootCause associations
// supporting a given root cause.
func (s *KnowledgeStore) PhenomenaForRootCause(ctx context.Context, rootCauseID string) ([]PhenomenonRootCause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phenomenon_id, root_cause_id, ticket_count
		FROM phenomenon_root_causes WHERE root_cause_id = $1 ORDER BY phenomenon_id
	`, rootCauseID)
	if err != nil {
		return nil, classifyPGErr(err, "phenomena for root cause")
	}
	defer rows.Close()

	var out []PhenomenonRootCause
	for rows.Next() {
		var prc PhenomenonRootCause
		if err := rows.Scan(&prc.PhenomenonID, &prc.RootCauseID, &prc.TicketCount); err != nil {
			return nil, classifyPGErr(err, "scan phenomenon root cause")
		}
		out = append(out, prc)
	}
	return out, classifyPGErr(rows.Err(), "phenomena for root cause")
}

func nonNilJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
