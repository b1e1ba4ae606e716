// Command guppid is the long-running agent daemon: it loads one agent's
// configuration, wires the journal, memory stores, LLM clients, and
// toolbox, and then hands control to the scheduler's refractory loop until
// the kill switch fires or the process receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/indoria/guppi/internal/bus"
	"github.com/indoria/guppi/internal/clipboard"
	"github.com/indoria/guppi/internal/cognition"
	"github.com/indoria/guppi/internal/config"
	"github.com/indoria/guppi/internal/contextasm"
	"github.com/indoria/guppi/internal/identity"
	"github.com/indoria/guppi/internal/journal"
	"github.com/indoria/guppi/internal/llm/anthropic"
	"github.com/indoria/guppi/internal/llm/google"
	"github.com/indoria/guppi/internal/normalizer"
	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/scheduler"
	"github.com/indoria/guppi/internal/todostore"
	"github.com/indoria/guppi/internal/toolbox"
	"github.com/indoria/guppi/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("guppid")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obslog.Init(cfg.LogLevel, cfg.LogPath)
	log := obslog.For("main")

	host, _ := os.Hostname()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	busClient := bus.New(cfg.Bus)
	defer func() {
		if err := busClient.Close(); err != nil {
			log.Warn().Err(err).Msg("bus close failed")
		}
	}()

	j, err := journal.Open(journal.Config{
		Path:          cfg.Paths.WorkingLog,
		ArchiveDir:    cfg.Paths.ArchiveDir,
		Agent:         cfg.AgentName,
		HighWaterMark: cfg.BufferHighWaterMark,
		KeepLast:      cfg.BufferPruneKeepLast,
		OnPrune:       toolbox.SpawnPruneSummary(cfg.AgentName, cfg.ScribeCommand, cfg.Embedding.Model),
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	clip, err := clipboard.Open(cfg.Paths.ClipboardFile)
	if err != nil {
		return fmt.Errorf("open clipboard: %w", err)
	}

	idStore, err := identity.Open(cfg.Paths.IdentityFile)
	if err != nil {
		return fmt.Errorf("open identity: %w", err)
	}

	var todos *todostore.Store
	if cfg.TodoDSN != "" {
		todos, err = todostore.Open(ctx, cfg.TodoDSN)
		if err != nil {
			return fmt.Errorf("open todo store: %w", err)
		}
		defer todos.Close()
	} else {
		log.Warn().Msg("no GUPPI_TODO_DSN configured, running without a todo store or alarm clock")
	}

	var vectors *vectorstore.Store
	if cfg.VectorStoreDSN != "" {
		vectors, err = vectorstore.Open(cfg.VectorStoreDSN, cfg.VectorCollection)
		if err != nil {
			log.Warn().Err(err).Msg("vector store unavailable, rag_search and vectorize results will be degraded")
			vectors = nil
		}
	}

	wal, err := normalizer.OpenWAL(cfg.Paths.InboxDumpLog)
	if err != nil {
		return fmt.Errorf("open inbox wal: %w", err)
	}
	dedupe := normalizer.NewDeduper(90 * time.Second)

	asm := contextasm.New(cfg.Paths.OverflowDir)
	if err := asm.SweepOverflow(time.Now()); err != nil {
		log.Warn().Err(err).Msg("overflow sweep failed at startup")
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}

	proClient := anthropic.New(cfg.Anthropic, httpClient)
	flashClient, err := google.New(cfg.Google, httpClient)
	if err != nil {
		return fmt.Errorf("init flash-tier llm client: %w", err)
	}

	wakeCh := make(chan struct{}, 16)

	toolDeps := toolbox.Deps{
		Agent:         cfg.AgentName,
		Bus:           busClient,
		Journal:       j,
		Clipboard:     clip,
		Identity:      idStore,
		Todos:         todos,
		Vectors:       vectors,
		Embedding:     cfg.Embedding,
		Exec:          cfg.Exec,
		Paths:         cfg.Paths,
		Refractory:    cfg.Refractory,
		SSHUser:       cfg.SSHUser,
		SSHKeyPath:    cfg.SSHKeyPath,
		NtfyEndpoint:  cfg.NtfyEndpoint,
		NtfyToken:     cfg.NtfyToken,
		SearXNGURL:    cfg.SearXNGURL,
		ScribeCommand: cfg.ScribeCommand,
		ScribeQueue:   cfg.EmbeddingQueue,
		HTTPClient:    httpClient,
		WakeCh:        wakeCh,
	}
	registry := toolbox.Build(toolDeps)

	cog := cognition.New(cognition.Deps{
		Agent:      cfg.AgentName,
		Flash:      flashClient,
		Pro:        proClient,
		Tools:      registry,
		Journal:    j,
		Bus:        busClient,
		Assembler:  asm,
		Identity:   idStore,
		Clipboard:  clip,
		Todos:      todos,
		Governor:   cognition.NewGovernor(cfg.Governor.Limit, cfg.Governor.Window),
		Paths:      cfg.Paths,
		Refractory: cfg.Refractory,
	})

	sched := scheduler.New(scheduler.Deps{
		Agent:             cfg.AgentName,
		Host:              host,
		Bus:               busClient,
		Journal:           j,
		Cognition:         cog,
		Todos:             todos,
		Vectors:           vectors,
		WAL:               wal,
		Dedupe:            dedupe,
		Paths:             cfg.Paths,
		Refractory:        cfg.Refractory,
		BurstDrainMax:     cfg.BurstDrainMax,
		WakeCh:            wakeCh,
		HeartbeatInterval: 60 * time.Second,
	})

	log.Info().Str("agent", cfg.AgentName).Str("host", host).Msg("guppid starting")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	log.Info().Msg("guppid shutting down")
	return nil
}
