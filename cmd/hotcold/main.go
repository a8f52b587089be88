package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	httpserver "hotcold/internal/http"
	"hotcold/pkg/clock"
	"hotcold/pkg/hotcold"
	"hotcold/pkg/leveled"
	"hotcold/pkg/metrics"
	"hotcold/pkg/policy"
	"hotcold/pkg/sink"
	"hotcold/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("hotcold stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := initConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(&cfg)

	reg := metrics.NewRegistry()

	// --- холодное хранилище ---
	store, err := sink.Open(cfg.Sink.Kind, cfg.Sink.Path, cfg.Sink.Compression, cfg.Sink.CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close sink", "error", err)
		}
	}()

	hc := cfg.HotCold
	index, err := leveled.New(nil, hc.LevelCapacities, hc.HotTableBound, store, leveled.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("failed to create leveled index: %w", err)
	}

	p, err := policy.New(hc.Policy.Kind, hc.Policy.MinHeat, hc.Policy.Fraction)
	if err != nil {
		return err
	}

	system, err := hotcold.New(index, p, hc.StagingBound, hotcold.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("failed to create hot/cold system: %w", err)
	}

	// --- асинхронный флашер cold записей ---
	cold := make(chan []types.Record, cfg.Flusher.Buffer)
	flusher := hotcold.NewFlusher(cold, store, reg)
	flusher.Start(context.Background())

	seq := clock.New(store.MaxSeqN())
	slog.Info("sequence clock restored", "seqn", seq.Val())

	server := httpserver.NewServer(system, seq, cold, reg, strconv.Itoa(cfg.Server.Port))
	if err := server.Start(); err != nil {
		flusher.Stop()
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}
	// сервер остановлен, новых cold батчей не будет
	flusher.Stop()

	// сбрасываем hot уровни и staging в хранилище до закрытия
	records := system.Records()
	if err := store.WriteRecords(records); err != nil {
		slog.Error("failed to persist in-memory records", "records", len(records), "error", err)
	}

	st := system.Stats()
	slog.Info("hotcold stopped", "persisted", len(records), "staging_entries", st.StagingEntries, "levels", len(st.Levels))
	return nil
}
