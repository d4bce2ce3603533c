package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/dialogue"
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

type scriptedChatModel struct{ text string }

func (m *scriptedChatModel) Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
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

func newTestManager(t *testing.T, st *store.KnowledgeStore, chat llmclient.ChatModel) *dialogue.Manager {
	sessions := newTestSessionStore(t)
	embedder := &constantEmbedder{dim: 2}
	r, err := retriever.New(st, embedder)
	require.NoError(t, err)
	require.NoError(t, r.RefreshFromStore(context.Background()))

	cfg := testDialogueConfig()
	tracker := hypothesis.New(st, r, cfg)
	rec := recommender.New(st, cfg)
	gen := responsegen.New(st, chat)
	return dialogue.New(sessions, r, tracker, rec, gen, chat, cfg, false)
}

func TestServer_Health_ReportsOKWithNoReadinessProbe(t *testing.T) {
	st := newTestKnowledgeStore(t)
	mgr := newTestManager(t, st, &scriptedChatModel{})
	s := NewServer(mgr, nil)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func dialChat(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestChatHandler_FullFlowReachesDiagnosis(t *testing.T) {
	st := newTestKnowledgeStore(t)
	seedSinglePhenomenonCorpus(t, st)
	chat := &scriptedChatModel{text: "## Observed phenomena\n- pool saturated\n\n## Reasoning chain\nPool exhausted.\n\n## Remediation\nRaise pool size.\n\n## Cited tickets\n- t1: direct match\n"}
	mgr := newTestManager(t, st, chat)
	s := NewServer(mgr, nil)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	conn := dialChat(t, ts)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "message", Content: "connection pool saturated"}))
	var first serverMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "output", first.Type)
	assert.Contains(t, first.HTML, "connection pool saturated")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "message", Content: "1 confirm"}))
	var second serverMessage
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "output", second.Type)
	assert.Contains(t, second.HTML, "t1")
}

func TestChatHandler_CommandsRespondAndExitCloses(t *testing.T) {
	st := newTestKnowledgeStore(t)
	mgr := newTestManager(t, st, &scriptedChatModel{})
	s := NewServer(mgr, nil)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	conn := dialChat(t, ts)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "command", Content: "/help"}))
	var help serverMessage
	require.NoError(t, conn.ReadJSON(&help))
	assert.Equal(t, "output", help.Type)
	assert.Contains(t, help.HTML, "/reset")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "command", Content: "/status"}))
	var status serverMessage
	require.NoError(t, conn.ReadJSON(&status))
	assert.Contains(t, status.HTML, "no session started")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "command", Content: "/exit"}))
	var bye serverMessage
	require.NoError(t, conn.ReadJSON(&bye))
	assert.Equal(t, "close", bye.Type)
}
