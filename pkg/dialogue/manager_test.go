package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/hypothesis"
	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/recommender"
	"github.com/dbincident/diagd/pkg/responsegen"
	"github.com/dbincident/diagd/pkg/retriever"
	"github.com/dbincident/diagd/pkg/store"
)

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

func newTestSessionStore(t *testing.T) *store.SessionStore {
	server := miniredis.RunT(t)
	return store.NewSessionStore(config.RedisConfig{Addr: server.Addr(), TTL: time.Hour})
}

type constantEmbedder struct{ dim int }

func (e *constantEmbedder) Dimension() int { return e.dim }

func (e *constantEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

type scriptedManagerChatModel struct{ text string }

func (m *scriptedManagerChatModel) Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
	return &llmclient.ChatResponse{Text: m.text}, nil
}

func testDialogueConfig() config.DialogueConfig {
	return config.DialogueConfig{
		TopKHypotheses:       3,
		TopNRecommendations:  3,
		DiagnosisThreshold:   0.80,
		ForcedDiagnosisFloor: 0.50,
		RetrievalTopK:        20,
		TurnBudget:           10 * time.Second,
		PerCallTimeout:       5 * time.Second,
	}
}

// seedSinglePhenomenonCorpus builds one root cause explained by exactly
// one phenomenon, so confirming it alone pushes confidence above the
// diagnosis threshold (progress=1, relevance=1, frequency=0.2 ->
// confidence=0.84).
func seedSinglePhenomenonCorpus(t *testing.T, st *store.KnowledgeStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.ImportRawTicket(ctx, store.RawTicket{
		TicketID: "t1", Description: "app hangs under load", RootCauseText: "pool too small", Solution: "raise pool size",
	}))

	rebuild, err := st.BeginRebuild(ctx)
	require.NoError(t, err)
	require.NoError(t, rebuild.InsertPhenomenon(ctx, store.Phenomenon{
		ID: "P-0001", Description: "connection pool saturated", ObservationMethod: "metrics dashboard",
		SourceAnomalyIDs: []string{"t1_anomaly_0"}, ClusterSize: 1, Embedding: []float32{1, 0},
	}))
	require.NoError(t, rebuild.InsertRootCause(ctx, store.RootCause{
		ID: "RC-0001", Description: "connection pool exhaustion", Solution: "raise pool size",
		SourceRawRootCause: []string{"pool too small"}, ClusterSize: 1, TicketCount: 1, Embedding: []float32{1, 0},
	}))
	require.NoError(t, rebuild.InsertTicket(ctx, store.Ticket{
		TicketID: "t1", Description: "app hangs under load", RootCauseID: "RC-0001", Solution: "raise pool size",
	}))
	require.NoError(t, rebuild.InsertTicketPhenomenon(ctx, store.TicketPhenomenon{
		TicketID: "t1", PhenomenonID: "P-0001", RawAnomalyID: "t1_anomaly_0", WhyRelevant: "matches symptom",
	}))
	require.NoError(t, rebuild.InsertPhenomenonRootCause(ctx, store.PhenomenonRootCause{
		PhenomenonID: "P-0001", RootCauseID: "RC-0001", TicketCount: 1,
	}))
	require.NoError(t, rebuild.Commit(ctx))
}

func newTestManager(t *testing.T, chat llmclient.ChatModel) *Manager {
	st := newTestKnowledgeStore(t)
	sessions := newTestSessionStore(t)

	embedder := &constantEmbedder{dim: 2}
	r, err := retriever.New(st, embedder)
	require.NoError(t, err)

	cfg := testDialogueConfig()
	tracker := hypothesis.New(st, r, cfg)
	rec := recommender.New(st, cfg)
	gen := responsegen.New(st, chat)

	return New(sessions, r, tracker, rec, gen, chat, cfg, false)
}

func TestManager_StartConversation_EmptyCorpusAsksInitialInfo(t *testing.T) {
	st := newTestKnowledgeStore(t)
	sessions := newTestSessionStore(t)
	embedder := &constantEmbedder{dim: 2}
	r, err := retriever.New(st, embedder)
	require.NoError(t, err)
	require.NoError(t, r.RefreshFromStore(context.Background()))

	cfg := testDialogueConfig()
	tracker := hypothesis.New(st, r, cfg)
	rec := recommender.New(st, cfg)
	gen := responsegen.New(st, &scriptedManagerChatModel{})
	mgr := New(sessions, r, tracker, rec, gen, &scriptedManagerChatModel{}, cfg, false)

	resp, err := mgr.StartConversation(context.Background(), "database is slow")
	require.NoError(t, err)
	assert.Equal(t, KindAskInitialInfo, resp.Kind)
	assert.NotEmpty(t, resp.SessionID)
}

func TestManager_FullFlow_BatchConfirmReachesDiagnosis(t *testing.T) {
	st := newTestKnowledgeStore(t)
	seedSinglePhenomenonCorpus(t, st)
	sessions := newTestSessionStore(t)

	embedder := &constantEmbedder{dim: 2}
	r, err := retriever.New(st, embedder)
	require.NoError(t, err)
	require.NoError(t, r.RefreshFromStore(context.Background()))

	cfg := testDialogueConfig()
	tracker := hypothesis.New(st, r, cfg)
	rec := recommender.New(st, cfg)
	chat := &scriptedManagerChatModel{text: "## Observed phenomena\n- pool saturated\n\n## Reasoning chain\nPool exhausted.\n\n## Remediation\nRaise pool size.\n\n## Cited tickets\n- t1: direct match\n"}
	gen := responsegen.New(st, chat)
	mgr := New(sessions, r, tracker, rec, gen, chat, cfg, false)

	start, err := mgr.StartConversation(context.Background(), "connection pool saturated")
	require.NoError(t, err)
	require.Equal(t, KindRecommend, start.Kind)
	require.Len(t, start.Phenomena, 1)
	assert.Equal(t, "P-0001", start.Phenomena[0].Phenomenon.ID)

	cont, err := mgr.ContinueConversation(context.Background(), start.SessionID, "1 confirm")
	require.NoError(t, err)
	require.Equal(t, KindDiagnosis, cont.Kind)
	require.NotNil(t, cont.Hypothesis)
	assert.Equal(t, "RC-0001", cont.Hypothesis.RootCauseID)
	assert.Contains(t, cont.Message, "t1")

	saved, err := sessions.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Len(t, saved.ConfirmedPhenomena, 1)
	assert.Equal(t, "P-0001", saved.ConfirmedPhenomena[0].PhenomenonID)
}

func TestManager_ContinueConversation_UnknownSessionYieldsError(t *testing.T) {
	mgr := newTestManager(t, &scriptedManagerChatModel{})
	resp, err := mgr.ContinueConversation(context.Background(), "does-not-exist", "1 confirm")
	require.NoError(t, err)
	assert.Equal(t, KindError, resp.Kind)
	assert.NotEmpty(t, resp.Error)
}

func TestManager_ContinueConversation_SerializesTurnsOnSameSession(t *testing.T) {
	st := newTestKnowledgeStore(t)
	seedSinglePhenomenonCorpus(t, st)
	sessions := newTestSessionStore(t)

	embedder := &constantEmbedder{dim: 2}
	r, err := retriever.New(st, embedder)
	require.NoError(t, err)
	require.NoError(t, r.RefreshFromStore(context.Background()))

	cfg := testDialogueConfig()
	tracker := hypothesis.New(st, r, cfg)
	rec := recommender.New(st, cfg)
	chat := &scriptedManagerChatModel{text: "## Cited tickets\n- t1\n"}
	gen := responsegen.New(st, chat)
	mgr := New(sessions, r, tracker, rec, gen, chat, cfg, false)

	start, err := mgr.StartConversation(context.Background(), "connection pool saturated")
	require.NoError(t, err)

	done := make(chan *Response, 2)
	go func() {
		resp, _ := mgr.ContinueConversation(context.Background(), start.SessionID, "1 confirm")
		done <- resp
	}()
	go func() {
		resp, _ := mgr.ContinueConversation(context.Background(), start.SessionID, "hello")
		done <- resp
	}()

	r1 := <-done
	r2 := <-done
	require.NotNil(t, r1)
	require.NotNil(t, r2)
}
