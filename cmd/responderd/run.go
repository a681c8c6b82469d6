package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"responderd/internal/admin"
	"responderd/internal/capture"
	"responderd/internal/config"
	"responderd/internal/duty"
	"responderd/internal/logging"
	"responderd/internal/mission"
	"responderd/internal/queue"
	"responderd/internal/syncer"
)

const networkProbeInterval = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent",
	Long:  "run starts the capture pipeline, the sync engine, and the local admin API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, schemaPath)
		if err != nil {
			return err
		}
		applyEnvOverrides(cfg)
		logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

		store, err := queue.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		q, err := queue.New(store, logger)
		if err != nil {
			return err
		}
		states := queue.NewStateStore(store)

		dutyMachine := duty.New(states, cfg.Cadences(), logger)
		missions := mission.New(dutyMachine, states, cfg.AlertTimeout(), logger)
		offers := mission.NewOfferGenerator(cfg.Mission.CenterLat, cfg.Mission.CenterLon)

		sender, prober, cleanup, err := newSender(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		engine := syncer.New(q, sender, prober, cfg.DeviceID, cfg.SyncOptions(), logger)

		provider := capture.NewSimProvider(cfg.Mission.CenterLat, cfg.Mission.CenterLon)
		capturer := capture.New(q, provider, capture.NewSimWatcher(provider), logger)
		dutyMachine.OnChange(func(_ duty.State, cadence duty.Cadence) {
			capturer.SetCadence(cadence)
		})

		srv := admin.New(dutyMachine, missions, offers, engine, q, capturer,
			cfg.DeviceID, cfg.Mission.ArrivalThresholdM, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			capturer.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return srv.Serve(ctx, cfg.AdminAddr)
		})
		g.Go(func() error {
			probeNetwork(ctx, engine, prober)
			return nil
		})

		engine.Start(ctx)
		defer engine.Stop()

		// Restore persisted state after the capture loop is live so the
		// duty callback lands on a running coordinator.
		restored := dutyMachine.Restore(ctx)
		if st := missions.Restore(ctx); st != mission.StatusIdle {
			logger.Info("mission restored", "status", st)
		}
		logger.Info("agent started",
			"device", cfg.DeviceID,
			"duty", restored,
			"uplink", cfg.Uplink.Mode,
			"admin", cfg.AdminAddr)

		return g.Wait()
	},
}

// applyEnvOverrides lets deployment environments override the file config
// without editing it.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("UPLINK_ENDPOINT"); v != "" {
		cfg.Uplink.Endpoint = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
}

// probeNetwork watches endpoint reachability and feeds transitions to the
// sync engine, which reacts to offline -> online with an immediate cycle.
func probeNetwork(ctx context.Context, engine *syncer.Engine, network syncer.NetworkChecker) {
	ticker := time.NewTicker(networkProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.NetworkChanged(network.Online(ctx))
		}
	}
}
