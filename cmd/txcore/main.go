// Command txcore is the composition root: it loads configuration, opens the
// embedded store, runs pending migrations, wires every service, and exposes
// a small set of subcommands for operating on the core directly. The
// front-ends spec.md places out of scope (CLI UX, MCP tool server, HTTP
// routes, dashboard) are expected to link against internal/ rather than
// shell out to this binary, but this command is useful on its own for
// migrating, checking sync status, and running the heartbeat reaper from
// cron, mirroring the teacher's cmd/dbctl administrative binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/txcore/tx/internal/anchor"
	"github.com/txcore/tx/internal/claim"
	"github.com/txcore/tx/internal/config"
	"github.com/txcore/tx/internal/dependency"
	"github.com/txcore/tx/internal/edge"
	"github.com/txcore/tx/internal/event"
	"github.com/txcore/tx/internal/graph"
	"github.com/txcore/tx/internal/heartbeat"
	"github.com/txcore/tx/internal/hierarchy"
	"github.com/txcore/tx/internal/learning"
	"github.com/txcore/tx/internal/llm"
	"github.com/txcore/tx/internal/migrations"
	"github.com/txcore/tx/internal/obs"
	"github.com/txcore/tx/internal/ready"
	"github.com/txcore/tx/internal/repo"
	"github.com/txcore/tx/internal/run"
	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/sync"
	"github.com/txcore/tx/internal/taskgraph"
)

// core bundles every constructed service a subcommand might need. Only a
// fraction of the fields are used by any one subcommand, but building it
// once keeps main's flow linear instead of re-wiring per command.
type core struct {
	db  *storage.DB
	log *zap.Logger
	cfg *config.Config

	tasks      *taskgraph.Service
	deps       *dependency.Service
	ready      *ready.Service
	hierarchy  *hierarchy.Service
	claims     *claim.Service
	runs       *run.Service
	heartbeat  *heartbeat.Service
	learnings  *learning.Service
	anchors    *anchor.Service
	edges      *edge.Service
	graphs     *graph.Service
	events     *event.Service
	llmBackend llm.Backend
	sync       *sync.Service
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file (defaults if absent)")
		rootDir    = flag.String("root", ".", "project root directory (resolves relative config/db/sync paths)")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: txcore [-config path] [-root dir] <migrate|reap|sync-status|sync-export|sync-import|sync-compact>")
		os.Exit(2)
	}

	absRoot, err := filepath.Abs(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "txcore: resolve root: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(resolvePath(absRoot, *configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "txcore: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.NewLogger(obs.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "txcore: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := bootstrap(ctx, absRoot, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer c.db.Close()

	if err := dispatch(ctx, c, args[0], args[1:]); err != nil {
		log.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// bootstrapEmbedder wires a chromem-go-backed vector embedder when an
// OpenAI API key is configured; otherwise it returns an embedder that
// reports itself unavailable, so Recall degrades to BM25+recency only
// (spec.md §4.K).
func bootstrapEmbedder(cfg *config.Config, log *zap.Logger) (learning.Embedder, error) {
	if cfg.Embedding.OpenAIAPIKey == "" {
		log.Debug("no embedding API key configured, vector recall disabled")
		return learning.NewChromemEmbedder(nil)
	}
	fn := chromem.NewEmbeddingFuncOpenAI(cfg.Embedding.OpenAIAPIKey, chromem.EmbeddingModel(cfg.Embedding.OpenAIModel))
	return learning.NewChromemEmbedder(fn)
}

// bootstrap opens the store, runs migrations, and constructs every service,
// following the teacher's main() sequencing: acquire exclusive resources
// first, then build the dependent layers on top.
func bootstrap(ctx context.Context, root string, cfg *config.Config, log *zap.Logger) (*core, error) {
	dbPath := resolvePath(root, cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := storage.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	runner := migrations.NewRunner(db, log)
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	taskRepo := repo.NewTaskRepo()
	depRepo := repo.NewDependencyRepo()
	claimRepo := repo.NewClaimRepo()
	runRepo := repo.NewRunRepo()
	heartbeatRepo := repo.NewHeartbeatRepo()
	learningRepo := repo.NewLearningRepo()
	anchorRepo := repo.NewAnchorRepo()
	edgeRepo := repo.NewEdgeRepo()
	eventRepo := repo.NewEventRepo()
	fileLearningRepo := repo.NewFileLearningRepo()
	attemptRepo := repo.NewAttemptRepo()
	dirtyRepo := repo.NewDirtyRepo()
	kvRepo := repo.NewKVConfigRepo()
	readyRepo := repo.NewReadyRepo()

	tasks := taskgraph.New(db, taskRepo, depRepo, log)
	deps := dependency.New(db, depRepo, log)
	readySvc := ready.New(db, taskRepo, depRepo, readyRepo, log)
	hierarchySvc := hierarchy.New(db, taskRepo, log)
	claims := claim.New(db, claimRepo, cfg.Claim.DefaultLeaseDuration, log)
	runs := run.New(db, runRepo, eventRepo, log)
	heartbeatSvc := heartbeat.New(db, heartbeatRepo, runRepo, taskRepo, claims, eventRepo, log)

	embedder, err := bootstrapEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	learnings := learning.New(db, learningRepo, kvRepo, embedder, log)
	anchors := anchor.New(db, anchorRepo, learningRepo, log)
	edges := edge.New(db, edgeRepo, log)
	graphs := graph.New(db, edgeRepo, learningRepo, log)
	events := event.New(db, eventRepo, log)

	var llmBackend llm.Backend = llm.NewNoop()

	syncSvc := sync.New(db, taskRepo, depRepo, learningRepo, fileLearningRepo, attemptRepo, dirtyRepo, kvRepo, root, log)

	return &core{
		db: db, log: log, cfg: cfg,
		tasks: tasks, deps: deps, ready: readySvc, hierarchy: hierarchySvc,
		claims: claims, runs: runs, heartbeat: heartbeatSvc,
		learnings: learnings, anchors: anchors, edges: edges, graphs: graphs,
		events: events, llmBackend: llmBackend, sync: syncSvc,
	}, nil
}

func dispatch(ctx context.Context, c *core, cmd string, rest []string) error {
	switch cmd {
	case "migrate":
		// Migrations already ran during bootstrap; this subcommand exists
		// so an operator can run them without also starting a reap or sync.
		c.log.Info("migrations are current")
		return nil

	case "reap":
		entries, err := c.heartbeat.ReapStalled(ctx, heartbeat.StallOptions{
			TranscriptIdleSeconds: c.cfg.Heartbeat.TranscriptIdleSeconds,
			HeartbeatLagSeconds:   c.cfg.Heartbeat.HeartbeatLagSeconds,
			ResetTask:             true,
		})
		if err != nil {
			return err
		}
		c.log.Info("heartbeat reap complete", zap.Int("reaped", len(entries)))
		return nil

	case "sync-status":
		st, err := c.sync.GetStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("tasks:          db=%d file=%d dirty=%v\n", st.Tasks.DBCount, st.Tasks.FileCount, st.Tasks.Dirty)
		fmt.Printf("learnings:      db=%d file=%d dirty=%v\n", st.Learnings.DBCount, st.Learnings.FileCount, st.Learnings.Dirty)
		fmt.Printf("file-learnings: db=%d file=%d dirty=%v\n", st.FileLearnings.DBCount, st.FileLearnings.FileCount, st.FileLearnings.Dirty)
		fmt.Printf("attempts:       db=%d file=%d dirty=%v\n", st.Attempts.DBCount, st.Attempts.FileCount, st.Attempts.Dirty)
		return nil

	case "sync-export":
		return c.sync.ExportAll(ctx)

	case "sync-import":
		result, err := c.sync.ImportAll(ctx)
		if err != nil {
			return err
		}
		c.log.Info("import complete",
			zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped),
			zap.Int("conflicts", result.Conflicts), zap.Int("parseErrors", result.ParseErrors))
		return nil

	case "sync-compact":
		tr, err := c.sync.CompactTasks(ctx, "")
		if err != nil {
			return err
		}
		c.log.Info("compacted tasks.jsonl", zap.Int("before", tr.Before), zap.Int("after", tr.After))
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
