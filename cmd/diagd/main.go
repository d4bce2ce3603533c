// diagd is the database-incident diagnosis engine: it rebuilds a
// standardized phenomenon/root-cause knowledge graph from raw ticket
// corpora and drives a turn-by-turn diagnosis conversation over it,
// through a CLI, a WebSocket server, or both.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/dbincident/diagd/pkg/api"
	"github.com/dbincident/diagd/pkg/cli"
	"github.com/dbincident/diagd/pkg/config"
	"github.com/dbincident/diagd/pkg/diagerr"
	"github.com/dbincident/diagd/pkg/dialogue"
	"github.com/dbincident/diagd/pkg/hypothesis"
	"github.com/dbincident/diagd/pkg/indexbuilder"
	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/recommender"
	"github.com/dbincident/diagd/pkg/responsegen"
	"github.com/dbincident/diagd/pkg/retriever"
	"github.com/dbincident/diagd/pkg/store"
	"github.com/dbincident/diagd/pkg/version"
	"github.com/dbincident/diagd/pkg/visualize"
)

// Exit codes: 0 success, 1 config error, 2 data error, 3
// upstream service error.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitDataError     = 2
	exitUpstreamError = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitConfigError
	}

	configDir := getEnv("DIAGD_CONFIG_DIR", "./config")

	cfg, err := config.Load(configDir)
	if err != nil {
		log.Printf("failed to load configuration from %s: %v", configDir, err)
		return exitConfigError
	}

	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "init":
		return cmdInit(ctx, cfg)
	case "import":
		return cmdImport(ctx, cfg, rest)
	case "rebuild-index":
		return cmdRebuildIndex(ctx, cfg)
	case "cli":
		return cmdCLI(ctx, cfg, rest)
	case "web":
		return cmdWeb(ctx, cfg, rest)
	case "visualize":
		return cmdVisualize(ctx, cfg, rest)
	default:
		log.Printf("unknown command %q", cmd)
		printUsage()
		return exitConfigError
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: diagd <init|import <file.json>|rebuild-index|cli [--hyb|--rar]|web [--host H --port P]|visualize [--layout X]>")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// cmdInit creates or migrates the knowledge store schema. Opening a
// PostgresClient already applies every pending migration, so init's
// only job is to do exactly that and report success.
func cmdInit(ctx context.Context, cfg *config.Config) int {
	client, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		log.Printf("init: %v", err)
		return exitDataError
	}
	defer client.Close()
	log.Println("knowledge store schema is up to date")
	return exitOK
}

// importRow is the raw ticket import row format accepted by the JSON loader.
type importRow struct {
	TicketID    string          `json:"ticket_id"`
	Metadata    json.RawMessage `json:"metadata"`
	Description string          `json:"description"`
	RootCause   string          `json:"root_cause"`
	Solution    string          `json:"solution"`
	Anomalies   []struct {
		Description       string `json:"description"`
		ObservationMethod string `json:"observation_method"`
		WhyRelevant       string `json:"why_relevant"`
	} `json:"anomalies"`
}

func cmdImport(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: diagd import <file.json>")
		return exitConfigError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Printf("import: read %s: %v", args[0], err)
		return exitDataError
	}

	var rows []importRow
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Printf("import: parse %s: %v", args[0], err)
		return exitDataError
	}

	client, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		log.Printf("import: %v", err)
		return exitDataError
	}
	defer client.Close()
	knowledge := store.NewKnowledgeStore(client)

	for _, row := range rows {
		if err := knowledge.ImportRawTicket(ctx, store.RawTicket{
			TicketID: row.TicketID, Description: row.Description,
			RootCauseText: row.RootCause, Solution: row.Solution,
			Metadata: row.Metadata,
		}); err != nil {
			log.Printf("import: ticket %s: %v", row.TicketID, err)
			return exitDataError
		}
		for i, a := range row.Anomalies {
			if err := knowledge.ImportRawAnomaly(ctx, store.RawAnomaly{
				ID: fmt.Sprintf("%s_anomaly_%d", row.TicketID, i), TicketID: row.TicketID, Index: i,
				Description: a.Description, ObservationMethod: a.ObservationMethod, WhyRelevant: a.WhyRelevant,
			}); err != nil {
				log.Printf("import: anomaly %d of ticket %s: %v", i, row.TicketID, err)
				return exitDataError
			}
		}
	}

	log.Printf("imported %d ticket(s)", len(rows))
	return exitOK
}

func cmdRebuildIndex(ctx context.Context, cfg *config.Config) int {
	client, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		log.Printf("rebuild-index: %v", err)
		return exitDataError
	}
	defer client.Close()
	knowledge := store.NewKnowledgeStore(client)

	embedder, chat, err := newCollaborators(cfg)
	if err != nil {
		log.Printf("rebuild-index: %v", err)
		return exitConfigError
	}

	builder := indexbuilder.NewBuilder(knowledge, embedder, chat, cfg.Cluster())
	result, err := builder.Run(ctx)
	if err != nil {
		log.Printf("rebuild-index: %v", err)
		return exitForError(err)
	}

	log.Printf("rebuild complete: %d phenomena, %d root causes, %d tickets, %s elapsed",
		result.PhenomenaBuilt, result.RootCausesBuilt, result.TicketsBuilt, result.Elapsed)
	return exitOK
}

func cmdCLI(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	hyb := fs.Bool("hyb", false, "use the hybrid (GAR+retrieval+LLM-feedback) dialogue variant")
	rar := fs.Bool("rar", false, "use the retrieval-augmented-reasoning stub instead of the graph-based engine")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *hyb && *rar {
		fmt.Fprintln(os.Stderr, "cli: --hyb and --rar are mutually exclusive")
		return exitConfigError
	}

	engine, closeFn, err := buildEngine(ctx, cfg, *hyb, *rar)
	if err != nil {
		log.Printf("cli: %v", err)
		return exitForError(err)
	}
	defer closeFn()

	repl := cli.New(engine, os.Stdin, os.Stdout)
	if err := repl.Run(ctx); err != nil {
		log.Printf("cli: %v", err)
		return exitDataError
	}
	return exitOK
}

func cmdWeb(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	host := fs.String("host", cfg.Server().Host, "bind address")
	port := fs.Int("port", cfg.Server().Port, "bind port")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	engine, closeFn, err := buildEngine(ctx, cfg, false, false)
	if err != nil {
		log.Printf("web: %v", err)
		return exitForError(err)
	}
	defer closeFn()

	mgr, ok := engine.(*dialogue.Manager)
	if !ok {
		log.Printf("web: GAR/Hyb manager required")
		return exitConfigError
	}

	dbClient, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		log.Printf("web: %v", err)
		return exitDataError
	}
	defer dbClient.Close()

	srv := api.NewServer(mgr, func(ctx context.Context) error {
		return dbClient.DB().PingContext(ctx)
	})

	addr := fmt.Sprintf("%s:%d", *host, *port)
	slog.Info("starting diagd web server", "addr", addr, "version", version.Full())
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("web: %v", err)
		return exitDataError
	}
	return exitOK
}

func cmdVisualize(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("visualize", flag.ContinueOnError)
	layout := fs.String("layout", "force", "graph layout: force or radial")
	output := fs.String("out", "graph.html", "output HTML file path")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	client, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		log.Printf("visualize: %v", err)
		return exitDataError
	}
	defer client.Close()
	knowledge := store.NewKnowledgeStore(client)

	graph, err := visualize.Build(ctx, knowledge)
	if err != nil {
		log.Printf("visualize: %v", err)
		return exitDataError
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Printf("visualize: create %s: %v", *output, err)
		return exitDataError
	}
	defer f.Close()

	if err := visualize.Render(f, graph, *layout); err != nil {
		log.Printf("visualize: render: %v", err)
		return exitDataError
	}
	log.Printf("wrote %s (%d nodes, %d edges)", *output, len(graph.Nodes), len(graph.Edges))
	return exitOK
}

// newCollaborators builds the retrying LLM/embedding collaborators
// shared by rebuild-index and every dialogue engine.
func newCollaborators(cfg *config.Config) (llmclient.Embedder, llmclient.ChatModel, error) {
	embedCfg := cfg.Embedding()
	embedder, err := llmclient.NewOpenAIEmbedder(embedCfg.Model, embedCfg.APIKeyEnv, embedCfg.Dimension)
	if err != nil {
		return nil, nil, fmt.Errorf("construct embedder: %w", err)
	}

	llmCfg := cfg.LLM()
	chat, err := llmclient.NewAnthropicChatModel(llmCfg.Model, llmCfg.APIKeyEnv, llmCfg.Temperature, llmCfg.MaxTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("construct chat model: %w", err)
	}

	retryCfg := cfg.Retry()
	policy := llmclient.RetryPolicy{
		MaxAttempts:     retryCfg.MaxAttempts,
		InitialInterval: retryCfg.InitialInterval,
		MaxInterval:     retryCfg.MaxInterval,
	}
	return llmclient.NewRetryingEmbedder(embedder, policy), llmclient.NewRetryingChatModel(chat, policy), nil
}

// buildEngine wires the knowledge store, session store, retriever,
// tracker, recommender, and response generator into whichever dialogue
// engine the caller selected, returning a cleanup func that closes the
// underlying connections.
func buildEngine(ctx context.Context, cfg *config.Config, hyb, rar bool) (dialogue.RARDialogue, func(), error) {
	dbClient, err := store.NewPostgresClient(ctx, cfg.Database())
	if err != nil {
		return nil, nil, fmt.Errorf("connect to knowledge store: %w", err)
	}
	knowledge := store.NewKnowledgeStore(dbClient)
	sessions := store.NewSessionStore(cfg.Redis())

	closeFn := func() {
		dbClient.Close()
		sessions.Close()
	}

	embedder, chat, err := newCollaborators(cfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	if rar {
		return dialogue.NewRARStub(knowledge, sessions, chat), closeFn, nil
	}

	r, err := retriever.New(knowledge, embedder)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("build retriever: %w", err)
	}
	if err := r.RefreshFromStore(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("refresh retriever: %w", err)
	}

	dialogueCfg := cfg.Dialogue()
	tracker := hypothesis.New(knowledge, r, dialogueCfg)
	rec := recommender.New(knowledge, dialogueCfg)
	gen := responsegen.New(knowledge, chat)
	mgr := dialogue.New(sessions, r, tracker, rec, gen, chat, dialogueCfg, hyb)
	return mgr, closeFn, nil
}

// exitForError maps a classified diagerr into a process exit code; an
// unclassified error is treated as a data error rather than silently
// succeeding.
func exitForError(err error) int {
	var classified *diagerr.Error
	if !errors.As(err, &classified) {
		return exitDataError
	}
	switch classified.Kind {
	case diagerr.KindTransientUpstream, diagerr.KindPermanentUpstream:
		return exitUpstreamError
	default:
		return exitDataError
	}
}
