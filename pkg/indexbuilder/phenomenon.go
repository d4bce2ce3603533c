package indexbuilder

import (
	"context"
	"fmt"

	"github.com/dbincident/diagd/pkg/store"
)

// buildPhenomena embeds every raw anomaly, clusters them greedily in
// (ticket_id, index) order (the order ListRawAnomalies already
// returns), and canonicalizes each multi-member cluster's description
// via llm_chat. Returns the built phenomena and a map from raw anomaly
// id to the phenomenon id it was assigned to.
func (b *Builder) buildPhenomena(ctx context.Context, anomalies []store.RawAnomaly) ([]store.Phenomenon, map[string]string, error) {
	if len(anomalies) == 0 {
		return nil, map[string]string{}, nil
	}

	texts := make([]string, len(anomalies))
	for i, a := range anomalies {
		texts[i] = a.Description
	}
	embeddings, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed anomalies: %w", err)
	}

	items := make([]clusterItem, len(anomalies))
	for i := range anomalies {
		items[i] = clusterItem{embedding: embeddings[i], index: i}
	}
	clusters := greedyCluster(items, b.threshold)

	phenomena := make([]store.Phenomenon, 0, len(clusters))
	anomalyToPhenomenon := make(map[string]string, len(anomalies))

	for i, c := range clusters {
		id := fmt.Sprintf("P-%04d", i+1)

		descs := make([]string, len(c.members))
		methods := make([]string, len(c.members))
		sourceIDs := make([]string, len(c.members))
		for j, idx := range c.members {
			descs[j] = anomalies[idx].Description
			methods[j] = anomalies[idx].ObservationMethod
			sourceIDs[j] = anomalies[idx].ID
			anomalyToPhenomenon[anomalies[idx].ID] = id
		}

		description := descs[0]
		if len(descs) > 1 {
			merged, err := b.canonicalize(ctx, phenomenonMergeSystemPrompt, mergePhenomenonPrompt(descs))
			if err != nil {
				return nil, nil, fmt.Errorf("canonicalize phenomenon %s: %w", id, err)
			}
			description = merged
		}

		phenomena = append(phenomena, store.Phenomenon{
			ID:                id,
			Description:       description,
			ObservationMethod: longestNonEmpty(methods),
			SourceAnomalyIDs:  sourceIDs,
			ClusterSize:       len(c.members),
			Embedding:         c.centroid,
		})
	}

	return phenomena, anomalyToPhenomenon, nil
}
