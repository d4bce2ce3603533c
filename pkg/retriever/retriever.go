// Package retriever maps free-text queries to ranked phenomena (and,
// for the hybrid dialogue strategy, to similar tickets) using a hybrid
// vector+keyword search over an in-process chromem-go index. Postgres
// remains the source of truth; the index is loaded from it by
// RefreshFromStore, which diagd calls once when it builds a dialogue
// engine. A later index build is not picked up by a running process.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/philippgille/chromem-go"

	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/store"
)

const (
	phenomenaCollection = "phenomena"
	ticketCollection    = "ticket_descriptions"

	vectorCandidates = 50
)

// Retriever answers retrieval queries against the current corpus. It
// is safe for concurrent use once RefreshFromStore has completed at
// least once; RefreshFromStore itself should not run concurrently with
// reads (diagd runs it once, at startup).
type Retriever struct {
	knowledge *store.KnowledgeStore
	embedder  llmclient.Embedder

	db          *chromem.DB
	phenomena   *chromem.Collection
	tickets     *chromem.Collection
	phenomenaN  int
	ticketsN    int
	log         *slog.Logger
}

// New constructs a Retriever with an empty in-process index. Call
// RefreshFromStore before issuing any query.
func New(knowledge *store.KnowledgeStore, embedder llmclient.Embedder) (*Retriever, error) {
	db := chromem.NewDB()

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}

	phenomena, err := db.CreateCollection(phenomenaCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("retriever: create phenomena collection: %w", err)
	}
	tickets, err := db.CreateCollection(ticketCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("retriever: create ticket collection: %w", err)
	}

	return &Retriever{
		knowledge: knowledge,
		embedder:  embedder,
		db:        db,
		phenomena: phenomena,
		tickets:   tickets,
		log:       slog.With("component", "retriever"),
	}, nil
}

// RefreshFromStore repopulates both collections from Postgres. It
// replaces the collections wholesale rather than diffing them — index
// builds are infrequent and the corpus is small enough that a full
// reload is cheap relative to an LLM-bound rebuild.
func (r *Retriever) RefreshFromStore(ctx context.Context) error {
	phenomena, err := r.knowledge.ListPhenomena(ctx)
	if err != nil {
		return fmt.Errorf("retriever: list phenomena: %w", err)
	}
	tickets, err := r.knowledge.ListTickets(ctx)
	if err != nil {
		return fmt.Errorf("retriever: list tickets: %w", err)
	}

	if err := r.db.DeleteCollection(phenomenaCollection); err != nil {
		r.log.WarnContext(ctx, "delete phenomena collection before refresh", "err", err)
	}
	if err := r.db.DeleteCollection(ticketCollection); err != nil {
		r.log.WarnContext(ctx, "delete ticket collection before refresh", "err", err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := r.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}

	phenomenaCol, err := r.db.CreateCollection(phenomenaCollection, nil, embedFunc)
	if err != nil {
		return fmt.Errorf("retriever: recreate phenomena collection: %w", err)
	}
	ticketCol, err := r.db.CreateCollection(ticketCollection, nil, embedFunc)
	if err != nil {
		return fmt.Errorf("retriever: recreate ticket collection: %w", err)
	}

	phenomenaDocs := make([]chromem.Document, 0, len(phenomena))
	for _, p := range phenomena {
		phenomenaDocs = append(phenomenaDocs, chromem.Document{
			ID:        p.ID,
			Content:   p.Description + " " + p.ObservationMethod,
			Embedding: p.Embedding,
			Metadata: map[string]string{
				"description":        p.Description,
				"observation_method": p.ObservationMethod,
			},
		})
	}
	if len(phenomenaDocs) > 0 {
		if err := phenomenaCol.AddDocuments(ctx, phenomenaDocs, 1); err != nil {
			return fmt.Errorf("retriever: add phenomena documents: %w", err)
		}
	}

	ticketTexts := make([]string, len(tickets))
	for i, t := range tickets {
		ticketTexts[i] = t.Description
	}
	var ticketEmbeddings [][]float32
	if len(ticketTexts) > 0 {
		ticketEmbeddings, err = r.embedder.Embed(ctx, ticketTexts)
		if err != nil {
			return fmt.Errorf("retriever: embed ticket descriptions: %w", err)
		}
	}
	ticketDocs := make([]chromem.Document, 0, len(tickets))
	for i, t := range tickets {
		ticketDocs = append(ticketDocs, chromem.Document{
			ID:        t.TicketID,
			Content:   t.Description,
			Embedding: ticketEmbeddings[i],
		})
	}
	if len(ticketDocs) > 0 {
		if err := ticketCol.AddDocuments(ctx, ticketDocs, 1); err != nil {
			return fmt.Errorf("retriever: add ticket documents: %w", err)
		}
	}

	r.phenomena = phenomenaCol
	r.tickets = ticketCol
	r.phenomenaN = len(phenomenaDocs)
	r.ticketsN = len(ticketDocs)

	r.log.InfoContext(ctx, "refreshed retrieval index", "phenomena", r.phenomenaN, "tickets", r.ticketsN)
	return nil
}

func clampTopN(want, have int) int {
	if have < want {
		return have
	}
	return want
}
