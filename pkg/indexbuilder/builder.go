// Package indexbuilder rebuilds the standardized knowledge-store
// tables (phenomena, root causes, tickets, and their associations)
// from the raw, author-curated tables. A rebuild is a destructive,
// idempotent recomputation: prior standardized rows are discarded and
// replaced wholesale.
package indexbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/store"
)

// Builder drives one rebuild pass. The chat and embedding
// collaborators are expected to already be wrapped with retry by the
// caller (see pkg/llmclient.NewRetryingChatModel/NewRetryingEmbedder) —
// the builder itself issues one batched embed call per stage plus the
// chat calls that canonicalize each multi-member cluster, and does not
// retry on its own.
type Builder struct {
	store     *store.KnowledgeStore
	embedder  llmclient.Embedder
	chat      llmclient.ChatModel
	threshold float64
}

// NewBuilder constructs a Builder.
func NewBuilder(st *store.KnowledgeStore, embedder llmclient.Embedder, chat llmclient.ChatModel, cfg config.ClusterConfig) *Builder {
	return &Builder{store: st, embedder: embedder, chat: chat, threshold: cfg.SimilarityThreshold}
}

// Result summarizes one completed rebuild.
type Result struct {
	PhenomenaBuilt  int
	RootCausesBuilt int
	TicketsBuilt    int
	Elapsed         time.Duration
}

// Run executes the full rebuild pipeline as a sequence of named
// stages, logging each stage's duration. Any stage failure aborts the
// whole rebuild without mutating the standardized tables — the
// staging-then-swap commit only happens once every stage has
// succeeded.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := slog.With("component", "indexbuilder")
	log.InfoContext(ctx, "rebuild starting")

	tickets, err := b.store.ListRawTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexbuilder: list raw tickets: %w", err)
	}
	anomalies, err := b.store.ListRawAnomalies(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexbuilder: list raw anomalies: %w", err)
	}

	phenomena, anomalyToPhenomenon, err := runStage(ctx, log, "build_phenomena", func() ([]store.Phenomenon, map[string]string, error) {
		return b.buildPhenomena(ctx, anomalies)
	})
	if err != nil {
		return nil, err
	}

	rootCauses, textToRootCause, err := runStage(ctx, log, "build_root_causes", func() ([]store.RootCause, map[string]string, error) {
		return b.buildRootCauses(ctx, tickets)
	})
	if err != nil {
		return nil, err
	}

	stageStart := time.Now()
	rebuild, err := b.store.BeginRebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexbuilder: begin rebuild: %w", err)
	}

	for _, p := range phenomena {
		if err := rebuild.InsertPhenomenon(ctx, p); err != nil {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: insert phenomenon %s: %w", p.ID, err)
		}
	}
	for _, rc := range rootCauses {
		if err := rebuild.InsertRootCause(ctx, rc); err != nil {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: insert root cause %s: %w", rc.ID, err)
		}
	}

	ticketPhenomena := make(map[string]map[string]bool, len(tickets))
	for _, a := range anomalies {
		pID, ok := anomalyToPhenomenon[a.ID]
		if !ok {
			continue
		}
		if err := rebuild.InsertTicketPhenomenon(ctx, store.TicketPhenomenon{
			TicketID: a.TicketID, PhenomenonID: pID, WhyRelevant: a.WhyRelevant, RawAnomalyID: a.ID,
		}); err != nil {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: insert ticket_phenomenon for %s: %w", a.ID, err)
		}
		m, ok := ticketPhenomena[a.TicketID]
		if !ok {
			m = make(map[string]bool)
			ticketPhenomena[a.TicketID] = m
		}
		m[pID] = true
	}

	for _, t := range tickets {
		rcID, ok := textToRootCause[t.RootCauseText]
		if !ok {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: no root cause resolved for ticket %s", t.TicketID)
		}
		if err := rebuild.InsertTicket(ctx, store.Ticket{
			TicketID: t.TicketID, Description: t.Description, RootCauseID: rcID, Solution: t.Solution,
		}); err != nil {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: insert ticket %s: %w", t.TicketID, err)
		}
	}

	pairCounts := make(map[[2]string]int)
	for _, t := range tickets {
		rcID := textToRootCause[t.RootCauseText]
		for pID := range ticketPhenomena[t.TicketID] {
			pairCounts[[2]string{pID, rcID}]++
		}
	}
	for pair, count := range pairCounts {
		if err := rebuild.InsertPhenomenonRootCause(ctx, store.PhenomenonRootCause{
			PhenomenonID: pair[0], RootCauseID: pair[1], TicketCount: count,
		}); err != nil {
			_ = rebuild.Rollback()
			return nil, fmt.Errorf("indexbuilder: insert phenomenon_root_cause %v: %w", pair, err)
		}
	}

	if err := rebuild.Commit(ctx); err != nil {
		return nil, fmt.Errorf("indexbuilder: commit rebuild: %w", err)
	}
	log.InfoContext(ctx, "stage complete", "stage", "build_associations_and_swap", "elapsed", time.Since(stageStart))

	result := &Result{
		PhenomenaBuilt:  len(phenomena),
		RootCausesBuilt: len(rootCauses),
		TicketsBuilt:    len(tickets),
		Elapsed:         time.Since(start),
	}
	log.InfoContext(ctx, "rebuild complete",
		"phenomena", result.PhenomenaBuilt, "root_causes", result.RootCausesBuilt,
		"tickets", result.TicketsBuilt, "elapsed", result.Elapsed)
	return result, nil
}

func runStage[T any](ctx context.Context, log *slog.Logger, name string, fn func() ([]T, map[string]string, error)) ([]T, map[string]string, error) {
	start := time.Now()
	items, mapping, err := fn()
	if err != nil {
		log.ErrorContext(ctx, "stage failed", "stage", name, "err", err)
		return nil, nil, err
	}
	log.InfoContext(ctx, "stage complete", "stage", name, "elapsed", time.Since(start), "count", len(items))
	return items, mapping, nil
}

func (b *Builder) canonicalize(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := b.chat.Chat(ctx, llmclient.ChatRequest{
		Messages: []llmclient.ChatMessage{
			{Role: llmclient.RoleSystem, Content: systemPrompt},
			{Role: llmclient.RoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func longestNonEmpty(values []string) string {
	best := ""
	for _, v := range values {
		if len(v) > len(best) {
			best = v
		}
	}
	return best
}
