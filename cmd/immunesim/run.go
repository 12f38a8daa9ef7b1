package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/macro-immunet/internal/api"
	"github.com/talgya/macro-immunet/internal/config"
	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/persistence"
	"github.com/talgya/macro-immunet/internal/scenario"
	"github.com/talgya/macro-immunet/internal/space"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Sim.MaxTicks, _ = cmd.Flags().GetInt64("ticks")
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("seed") {
				cfg.Sim.Seed, _ = cmd.Flags().GetInt64("seed")
			}
			return run(cfg)
		},
	}
	cmd.Flags().String("config", "", "YAML config file (defaults and IMMUNESIM_* env apply without one)")
	cmd.Flags().Int64("ticks", 0, "Stop after this many ticks (0 = until interrupted)")
	cmd.Flags().Int("port", 0, "HTTP API port (0 disables the API)")
	cmd.Flags().Int64("seed", 0, "Scenario seed")
	return cmd
}

func run(cfg config.Config) error {
	level, _ := config.ParseLevel(cfg.Logging.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("immunesim starting",
		"version", version,
		"seed", cfg.Sim.Seed,
		"grid_radius", cfg.Sim.GridRadius,
		"claim_cooldown", cfg.Field.ClaimCooldown,
		"prune_threshold", cfg.Field.PruneThreshold,
	)

	if extra := cfg.Field.Unregistered(); len(extra) > 0 {
		slog.Warn("decay configured for unregistered labels", "labels", extra)
	}

	// ── Field and space ──────────────────────────────────────────────
	fs := field.New(cfg.Field.StoreConfig())
	sp := space.New(cfg.Field.ClaimCooldown)
	sp.SeedIDs(cfg.Sim.Seed)

	behaviors := scenario.Demo(cfg.Sim.Seed, cfg.Sim.GridRadius)
	for _, b := range behaviors {
		slog.Debug("behaviour registered", "name", b.Name())
	}
	sim := engine.NewSimulation(fs, sp, behaviors...)
	sim.PruneEvery = cfg.Sim.PruneEvery

	// ── Recorder ─────────────────────────────────────────────────────
	rec := &persistence.Recorder{Field: fs, Every: cfg.Storage.RecordEvery}
	if cfg.Storage.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err := persistence.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		rec.DB = db
		slog.Info("database opened", "path", cfg.Storage.DBPath)

		meta := map[string]string{
			"seed":        strconv.FormatInt(cfg.Sim.Seed, 10),
			"grid_radius": strconv.Itoa(cfg.Sim.GridRadius),
			"started_at":  time.Now().UTC().Format(time.RFC3339),
			"version":     version,
		}
		for k, v := range meta {
			if err := db.SaveMeta(k, v); err != nil {
				slog.Warn("failed to save run metadata", "key", k, "error", err)
			}
		}
	}
	if cfg.Storage.TraceDir != "" {
		rec.Trace = persistence.NewTraceLog(cfg.Storage.TraceDir)
		slog.Info("trace log enabled", "dir", cfg.Storage.TraceDir)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			slog.Error("closing recorder", "error", err)
		}
	}()
	sim.OnReport = rec.Observe

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.Sim.Interval
	eng.MaxTicks = cfg.Sim.MaxTicks
	eng.SetSpeed(cfg.Sim.Speed)
	eng.OnTick = sim.Step
	eng.OnReport = sim.LogSummary

	// ── HTTP API ─────────────────────────────────────────────────────
	var srv *api.Server
	if cfg.API.Port > 0 {
		srv = &api.Server{
			Sim:      sim,
			Eng:      eng,
			DB:       rec.DB,
			Port:     cfg.API.Port,
			AdminKey: cfg.API.AdminKey,
		}
		srv.Start()
	}

	// ── Signals ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		slog.Info("received signal, stopping", "signal", sig)
		eng.Stop()
	}()

	eng.Run()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
	}
	if rec.DB != nil {
		if err := rec.DB.SaveFieldState(fs); err != nil {
			slog.Error("final field record failed", "error", err)
		}
	}

	sim.LogSummary(eng.Tick)
	slog.Info("immunesim stopped", "tick", eng.Tick)
	return nil
}
