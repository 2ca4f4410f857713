package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ravidnaor/corrobot/internal/authority"
	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/config"
	"github.com/ravidnaor/corrobot/internal/dispatch"
	"github.com/ravidnaor/corrobot/internal/eventpool"
	"github.com/ravidnaor/corrobot/internal/extractor"
	"github.com/ravidnaor/corrobot/internal/ingest"
	"github.com/ravidnaor/corrobot/internal/pipeline"
	"github.com/ravidnaor/corrobot/internal/store"
	"github.com/ravidnaor/corrobot/internal/store/pgstore"
	"github.com/ravidnaor/corrobot/internal/store/sqlite"
	"github.com/ravidnaor/corrobot/internal/telemetry"
	"github.com/ravidnaor/corrobot/internal/transport"
	"github.com/ravidnaor/corrobot/internal/transport/telegram"
)

// runCorrobot wires Config -> Store -> Pool -> Tracker -> Extractor ->
// Dispatcher -> transport sessions -> Ingest Fan-in -> Pipeline, then runs
// the fan-in plus the aggregator and maintenance background loops until
// SIGINT/SIGTERM, per spec.md §6.
func runCorrobot(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	pool := eventpool.New(st)
	tracker := authority.New(st, 0)
	ext := extractor.New(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.RPMLimit, cfg.LLM.BudgetHourly, clock.System{})
	ext.SetTracer(tracer)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("CORROBOT_TELEGRAM_TOKEN is not set")
	}
	sendSession, err := telegram.New(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("create send session: %w", err)
	}
	disp := dispatch.New(sendSession, cfg.Dispatch.ReportChat, cfg.Dispatch.SummaryChat)

	pcfg := pipeline.DefaultConfig()
	pcfg.HighAuthorityThreshold = cfg.Pipeline.HighAuthorityThreshold
	pcfg.MinSources = cfg.Pipeline.MinSources
	pcfg.EventMergeWindow = time.Duration(cfg.Pipeline.EventMergeWindowSec) * time.Second
	pcfg.FlushEvery = time.Duration(cfg.Pipeline.FlushEverySec) * time.Second
	pcfg.RetentionWindow = time.Duration(cfg.Pipeline.RetentionWindowSec) * time.Second
	pcfg.BatchSize = cfg.Pipeline.BatchSize
	pcfg.MaxBatchAge = time.Duration(cfg.Pipeline.MaxBatchAgeSec) * time.Second
	pcfg.SummaryMinInterval = time.Duration(cfg.Pipeline.SummaryMinIntervalSec) * time.Second
	if cfg.Pipeline.MaintenanceCron != "" {
		pcfg.MaintenanceCron = cfg.Pipeline.MaintenanceCron
	}

	pool.SetMatchThreshold(cfg.Pipeline.MatchThreshold)

	pl := pipeline.New(pcfg, st, pool, tracker, ext, disp, clock.System{})
	pl.SetTracer(tracer)
	if err := pl.Restore(ctx); err != nil {
		return fmt.Errorf("restore event pool: %w", err)
	}

	sourceList, err := config.LoadChannelList(cfg.Ingest.SourceChannelsFile)
	if err != nil {
		return fmt.Errorf("load source channel list: %w", err)
	}
	smartList, err := config.LoadChannelList(cfg.Ingest.SmartChannelsFile)
	if err != nil {
		return fmt.Errorf("load smart channel list: %w", err)
	}

	sessions := []transport.Session{sendSession}
	for _, tok := range cfg.Telegram.ReaderTokens {
		s, err := telegram.New(tok)
		if err != nil {
			return fmt.Errorf("create reader session: %w", err)
		}
		sessions = append(sessions, s)
	}

	icfg := ingest.DefaultConfig()
	icfg.BlockPhrases = cfg.Ingest.BlockPhrases
	if cfg.Ingest.ScanBatchLimit > 0 {
		icfg.ScanBatchLimit = cfg.Ingest.ScanBatchLimit
	}
	icfg.SmartOutputChat = cfg.Dispatch.SummaryChat
	fanin := ingest.New(icfg, sessions, clock.System{}, pl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sourceList.Watch(gctx)
	})
	g.Go(func() error {
		return smartList.Watch(gctx)
	})
	g.Go(func() error {
		return fanin.Run(gctx, sourceList.Channels(), smartList.Channels())
	})
	g.Go(func() error {
		return pl.RunAggregator(gctx)
	})
	g.Go(func() error {
		return pl.RunMaintenance(gctx)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("corrobot: %w", err)
	}
	slog.Info("corrobot: shutting down")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.IsManagedMode() {
		return pgstore.Open(cfg.Database.PostgresDSN)
	}
	path := cfg.DataDir + "/corrobot.db"
	return sqlite.Open(path)
}
