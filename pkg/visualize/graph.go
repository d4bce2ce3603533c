// Package visualize renders the standardized knowledge graph (phenomena,
// root causes, tickets, and the associations between them) as a single
// self-contained HTML page, for the optional `visualize` command.
package visualize

import (
	"context"
	"fmt"

	"github.com/dbincident/diagd/pkg/store"
)

// NodeKind distinguishes the three node families drawn on the graph.
type NodeKind string

const (
	NodePhenomenon NodeKind = "phenomenon"
	NodeRootCause  NodeKind = "root_cause"
	NodeTicket     NodeKind = "ticket"
)

// Node is one drawable vertex.
type Node struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Kind  NodeKind `json:"kind"`
}

// Edge is one drawable, directed association between two node ids.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Graph is the full renderable dataset.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Build reads the standardized tables and assembles the phenomenon
// <-> root-cause <-> ticket graph. It never fails on an empty corpus —
// an empty Graph renders as an empty page rather than an error, mirroring
// the knowledge-store readers' "missing row means empty set" policy.
func Build(ctx context.Context, knowledge *store.KnowledgeStore) (*Graph, error) {
	phenomena, err := knowledge.ListPhenomena(ctx)
	if err != nil {
		return nil, fmt.Errorf("visualize: list phenomena: %w", err)
	}
	rootCauses, err := knowledge.ListRootCauses(ctx)
	if err != nil {
		return nil, fmt.Errorf("visualize: list root causes: %w", err)
	}
	tickets, err := knowledge.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("visualize: list tickets: %w", err)
	}

	g := &Graph{}
	for _, p := range phenomena {
		g.Nodes = append(g.Nodes, Node{ID: p.ID, Label: p.Description, Kind: NodePhenomenon})
	}
	for _, rc := range rootCauses {
		g.Nodes = append(g.Nodes, Node{ID: rc.ID, Label: rc.Description, Kind: NodeRootCause})
	}
	for _, t := range tickets {
		g.Nodes = append(g.Nodes, Node{ID: t.TicketID, Label: t.TicketID, Kind: NodeTicket})
		if t.RootCauseID != "" {
			g.Edges = append(g.Edges, Edge{Source: t.TicketID, Target: t.RootCauseID, Label: "resolves to"})
		}
	}

	for _, p := range phenomena {
		associations, err := knowledge.TicketsForPhenomenon(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("visualize: tickets for phenomenon %s: %w", p.ID, err)
		}
		for _, a := range associations {
			g.Edges = append(g.Edges, Edge{Source: a.TicketID, Target: p.ID, Label: "exhibits"})
		}

		links, err := knowledge.RootCausesForPhenomenon(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("visualize: root causes for phenomenon %s: %w", p.ID, err)
		}
		for _, l := range links {
			g.Edges = append(g.Edges, Edge{Source: p.ID, Target: l.RootCauseID, Label: "supports"})
		}
	}

	return g, nil
}
