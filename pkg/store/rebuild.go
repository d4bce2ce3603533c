package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Rebuild is a single destructive-but-atomic rewrite of every
// standardized table. New rows accumulate in staging tables created
// for the duration of the rebuild; Commit swaps them into the real
// tables inside one transaction, so a failed or abandoned rebuild
// never touches the tables callers are currently reading. Neither this
// package nor pkg/indexbuilder prevents two Rebuilds from running at
// the same time.
type Rebuild struct {
	tx *sql.Tx
}

// BeginRebuild opens a transaction and creates fresh staging tables.
func (s *KnowledgeStore) BeginRebuild(ctx context.Context) (*Rebuild, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyPGErr(err, "begin rebuild")
	}

	stmts := []string{
		`CREATE TEMP TABLE phenomena_staging (
			id TEXT PRIMARY KEY, description TEXT, observation_method TEXT,
			source_anomaly_ids TEXT[], cluster_size INT, embedding BYTEA
		) ON COMMIT DROP`,
		`CREATE TEMP TABLE root_causes_staging (
			id TEXT PRIMARY KEY, description TEXT, solution TEXT,
			source_raw_root_cause TEXT[], cluster_size INT, ticket_count INT, embedding BYTEA
		) ON COMMIT DROP`,
		`CREATE TEMP TABLE tickets_staging (
			ticket_id TEXT PRIMARY KEY, description TEXT, root_cause_id TEXT, solution TEXT
		) ON COMMIT DROP`,
		`CREATE TEMP TABLE ticket_phenomena_staging (
			ticket_id TEXT, phenomenon_id TEXT, why_relevant TEXT, raw_anomaly_id TEXT
		) ON COMMIT DROP`,
		`CREATE TEMP TABLE phenomenon_root_causes_staging (
			phenomenon_id TEXT, root_cause_id TEXT, ticket_count INT
		) ON COMMIT DROP`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, classifyPGErr(err, "create staging tables")
		}
	}

	return &Rebuild{tx: tx}, nil
}

func (r *Rebuild) InsertPhenomenon(ctx context.Context, p Phenomenon) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO phenomena_staging (id, description, observation_method, source_anomaly_ids, cluster_size, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Description, p.ObservationMethod, pq.Array(p.SourceAnomalyIDs), p.ClusterSize, encodeEmbedding(p.Embedding))
	return classifyPGErr(err, "insert phenomenon")
}

func (r *Rebuild) InsertRootCause(ctx context.Context, rc RootCause) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO root_causes_staging (id, description, solution, source_raw_root_cause, cluster_size, ticket_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rc.ID, rc.Description, rc.Solution, pq.Array(rc.SourceRawRootCause), rc.ClusterSize, rc.TicketCount, encodeEmbedding(rc.Embedding))
	return classifyPGErr(err, "insert root cause")
}

func (r *Rebuild) InsertTicket(ctx context.Context, t Ticket) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO tickets_staging (ticket_id, description, root_cause_id, solution)
		VALUES ($1, $2, $3, $4)
	`, t.TicketID, t.Description, t.RootCauseID, t.Solution)
	return classifyPGErr(err, "insert ticket")
}

func (r *Rebuild) InsertTicketPhenomenon(ctx context.Context, tp TicketPhenomenon) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO ticket_phenomena_staging (ticket_id, phenomenon_id, why_relevant, raw_anomaly_id)
		VALUES ($1, $2, $3, $4)
	`, tp.TicketID, tp.PhenomenonID, tp.WhyRelevant, tp.RawAnomalyID)
	return classifyPGErr(err, "insert ticket phenomenon")
}

func (r *Rebuild) InsertPhenomenonRootCause(ctx context.Context, prc PhenomenonRootCause) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO phenomenon_root_causes_staging (phenomenon_id, root_cause_id, ticket_count)
		VALUES ($1, $2, $3)
	`, prc.PhenomenonID, prc.RootCauseID, prc.TicketCount)
	return classifyPGErr(err, "insert phenomenon root cause")
}

// Commit swaps the staging tables into the real tables and commits,
// all inside the rebuild's single transaction: the prior generation's
// rows are visible to every other connection right up until this
// commit lands, and any error here leaves them untouched.
func (r *Rebuild) Commit(ctx context.Context) error {
	stmts := []string{
		`DELETE FROM phenomenon_root_causes`,
		`DELETE FROM ticket_phenomena`,
		`DELETE FROM tickets`,
		`DELETE FROM root_causes`,
		`DELETE FROM phenomena`,
		`INSERT INTO phenomena SELECT * FROM phenomena_staging`,
		`INSERT INTO root_causes SELECT * FROM root_causes_staging`,
		`INSERT INTO tickets SELECT * FROM tickets_staging`,
		`INSERT INTO ticket_phenomena SELECT * FROM ticket_phenomena_staging`,
		`INSERT INTO phenomenon_root_causes SELECT * FROM phenomenon_root_causes_staging`,
	}
	for _, stmt := range stmts {
		if _, err := r.tx.ExecContext(ctx, stmt); err != nil {
			_ = r.tx.Rollback()
			return classifyPGErr(err, "swap staging tables")
		}
	}
	if err := r.tx.Commit(); err != nil {
		return classifyPGErr(err, "commit rebuild")
	}
	return nil
}

// Rollback discards the rebuild; the temp staging tables are dropped
// automatically when the transaction ends.
func (r *Rebuild) Rollback() error {
	if err := r.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("store: rollback rebuild: %w", err)
	}
	return nil
}
