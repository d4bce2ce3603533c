package indexbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/store"
)

// newTestKnowledgeStore starts a disposable PostgreSQL container,
// applies migrations, and returns a ready KnowledgeStore. Mirrors
// pkg/store's helper of the same name since it isn't exported.
func newTestKnowledgeStore(t *testing.T) *store.KnowledgeStore {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("diagd_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := store.NewPostgresClient(ctx, config.DatabaseConfig{
		Host: host, Port: port.Int(), User: "test", Password: "test",
		Database: "diagd_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return store.NewKnowledgeStore(client)
}

// fakeEmbedder returns deterministic unit-ish vectors: it embeds every
// distinct text seen so far to an axis-aligned vector at that text's
// first-seen index, so repeated texts cluster trivially and distinct
// texts never collide.
type fakeEmbedder struct {
	seen []string
}

func (f *fakeEmbedder) Dimension() int { return 4 }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		idx := -1
		for j, s := range f.seen {
			if s == text {
				idx = j
				break
			}
		}
		if idx == -1 {
			f.seen = append(f.seen, text)
			idx = len(f.seen) - 1
		}
		vec := make([]float32, 4)
		vec[idx%4] = 1
		out[i] = vec
	}
	return out, nil
}

// fakeChatModel returns a fixed canonicalized string regardless of the
// prompt, tagged with which system prompt invoked it so tests can
// assert the right merge path ran.
type fakeChatModel struct {
	calls int
}

func (f *fakeChatModel) Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
	f.calls++
	system := ""
	if len(req.Messages) > 0 {
		system = req.Messages[0].Content
	}
	switch system {
	case phenomenonMergeSystemPrompt:
		return &llmclient.ChatResponse{Text: "canonical phenomenon description"}, nil
	case rootCauseMergeSystemPrompt:
		return &llmclient.ChatResponse{Text: "canonical root cause description"}, nil
	case solutionMergeSystemPrompt:
		return &llmclient.ChatResponse{Text: "canonical merged solution"}, nil
	default:
		return &llmclient.ChatResponse{Text: "unrecognized"}, nil
	}
}

func TestBuilder_Run_SingletonAnomaliesStayDistinct(t *testing.T) {
	st := newTestKnowledgeStore(t)
	ctx := context.Background()

	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t1", Description: "connections exhausted", RootCauseText: "pool too small", Solution: "raise pool size",
	}))
	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t2", Description: "disk full", RootCauseText: "no log rotation", Solution: "rotate logs",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t1_anomaly_0", TicketID: "t1", Index: 0, Description: "connection pool saturated", ObservationMethod: "metrics dashboard", WhyRelevant: "matches symptom",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t2_anomaly_0", TicketID: "t2", Index: 0, Description: "disk usage at capacity", ObservationMethod: "df -h", WhyRelevant: "matches symptom",
	}))

	chat := &fakeChatModel{}
	builder := NewBuilder(st, &fakeEmbedder{}, chat, config.ClusterConfig{SimilarityThreshold: 0.85})

	result, err := builder.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PhenomenaBuilt)
	assert.Equal(t, 2, result.RootCausesBuilt)
	assert.Equal(t, 2, result.TicketsBuilt)
	assert.Equal(t, 0, chat.calls, "singleton clusters must not invoke canonicalization")

	phenomena, err := st.ListPhenomena(ctx)
	require.NoError(t, err)
	require.Len(t, phenomena, 2)
	for _, p := range phenomena {
		assert.Equal(t, 1, p.ClusterSize)
		assert.Len(t, p.SourceAnomalyIDs, 1)
	}

	rootCauses, err := st.ListRootCauses(ctx)
	require.NoError(t, err)
	require.Len(t, rootCauses, 2)
	for _, rc := range rootCauses {
		assert.Equal(t, 1, rc.TicketCount)
	}
}

func TestBuilder_Run_DuplicateRootCauseTextDeduplicatesTicketCount(t *testing.T) {
	st := newTestKnowledgeStore(t)
	ctx := context.Background()

	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t1", Description: "d1", RootCauseText: "shared cause", Solution: "fix it",
	}))
	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t2", Description: "d2", RootCauseText: "shared cause", Solution: "fix it",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t1_anomaly_0", TicketID: "t1", Index: 0, Description: "symptom a", ObservationMethod: "m", WhyRelevant: "r",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t2_anomaly_0", TicketID: "t2", Index: 0, Description: "symptom a", ObservationMethod: "m", WhyRelevant: "r",
	}))

	builder := NewBuilder(st, &fakeEmbedder{}, &fakeChatModel{}, config.ClusterConfig{SimilarityThreshold: 0.85})
	result, err := builder.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RootCausesBuilt)

	rootCauses, err := st.ListRootCauses(ctx)
	require.NoError(t, err)
	require.Len(t, rootCauses, 1)
	assert.Equal(t, 2, rootCauses[0].TicketCount)

	phenomenon, err := st.GetPhenomenon(ctx, "P-0001")
	require.NoError(t, err)

	prcs, err := st.RootCausesForPhenomenon(ctx, phenomenon.ID)
	require.NoError(t, err)
	require.Len(t, prcs, 1)
	assert.Equal(t, 2, prcs[0].TicketCount)
}

func TestBuilder_Run_MultiMemberClusterCanonicalizesViaChatModel(t *testing.T) {
	st := newTestKnowledgeStore(t)
	ctx := context.Background()

	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t1", Description: "d1", RootCauseText: "cause text one", Solution: "solution one",
	}))
	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t2", Description: "d2", RootCauseText: "cause text two", Solution: "solution two",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t1_anomaly_0", TicketID: "t1", Index: 0, Description: "symptom shared", ObservationMethod: "m1", WhyRelevant: "r",
	}))
	require.NoError(t, st.ImportRawAnomaly(ctx, store.RawAnomaly{
		ID: "t2_anomaly_0", TicketID: "t2", Index: 0, Description: "symptom shared", ObservationMethod: "m2", WhyRelevant: "r",
	}))

	chat := &fakeChatModel{}
	builder := NewBuilder(st, &fakeEmbedder{}, chat, config.ClusterConfig{SimilarityThreshold: 0.85})

	result, err := builder.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhenomenaBuilt)
	assert.Equal(t, 2, result.RootCausesBuilt, "distinct root cause texts stay distinct")
	assert.True(t, chat.calls >= 1, "multi-member phenomenon cluster must canonicalize")

	phenomena, err := st.ListPhenomena(ctx)
	require.NoError(t, err)
	require.Len(t, phenomena, 1)
	assert.Equal(t, 2, phenomena[0].ClusterSize)
	assert.Equal(t, "canonical phenomenon description", phenomena[0].Description)
	assert.Equal(t, "m1", phenomena[0].ObservationMethod)
}
