package dialogue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbincident/diagd/pkg/llmclient"
)

func TestParseFeedback_BatchFormConfirmsAndDenies(t *testing.T) {
	pending := []string{"P-0001", "P-0002", "P-0003"}
	res, err := parseFeedback(context.Background(), nil, "1 confirm, 2 deny", pending, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-0001"}, res.Confirmed)
	assert.Equal(t, []string{"P-0002"}, res.Denied)
}

func TestParseFeedback_BatchFormOutOfRangeIndexFallsThroughToBlanket(t *testing.T) {
	pending := []string{"P-0001"}
	// "5" has no corresponding pending entry, so the batch parse finds
	// nothing usable; the message still carries a blanket affirmative
	// keyword ("confirm"), so the blanket fast path applies instead.
	res, err := parseFeedback(context.Background(), nil, "5 confirm", pending, false)
	require.NoError(t, err)
	assert.Equal(t, pending, res.Confirmed)
	assert.Empty(t, res.Denied)
}

func TestParseFeedback_BlanketConfirmAppliesToAllPending(t *testing.T) {
	pending := []string{"P-0001", "P-0002"}
	res, err := parseFeedback(context.Background(), nil, "yes, that's exactly it", pending, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, pending, res.Confirmed)
	assert.Empty(t, res.Denied)
}

func TestParseFeedback_BlanketDenyAppliesToAllPending(t *testing.T) {
	pending := []string{"P-0001", "P-0002"}
	res, err := parseFeedback(context.Background(), nil, "no, none of those", pending, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, pending, res.Denied)
	assert.Empty(t, res.Confirmed)
}

type scriptedFeedbackChatModel struct{ json string }

func (m *scriptedFeedbackChatModel) Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
	return &llmclient.ChatResponse{JSON: []byte(m.json)}, nil
}

func TestParseFeedback_SlowPathUsedWhenHybridAndNoFastPathMatch(t *testing.T) {
	pending := []string{"P-0001", "P-0002"}
	chat := &scriptedFeedbackChatModel{json: `{"feedback":{"P-0001":"confirmed","P-0002":"unknown"},"new_observations":["replica lag spiked"]}`}

	res, err := parseFeedback(context.Background(), chat, "the connections are piling up and replica lag spiked", pending, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"P-0001"}, res.Confirmed)
	assert.Empty(t, res.Denied)
	assert.Equal(t, []string{"replica lag spiked"}, res.NewObservations)
}

func TestParseFeedback_NonHybridSkipsSlowPathOnAmbiguousMessage(t *testing.T) {
	pending := []string{"P-0001"}
	res, err := parseFeedback(context.Background(), nil, "not sure what you mean", pending, false)
	require.NoError(t, err)
	assert.Empty(t, res.Confirmed)
	assert.Empty(t, res.Denied)
	assert.Empty(t, res.NewObservations)
}
