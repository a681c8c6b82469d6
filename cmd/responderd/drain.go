package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"responderd/internal/config"
	"responderd/internal/logging"
	"responderd/internal/queue"
	"responderd/internal/telemetry"
	"responderd/internal/uplink"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Flush the durable queue once and exit",
	Long:  "drain sends every queued location to the configured uplink without starting the agent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, schemaPath)
		if err != nil {
			return err
		}
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

		sender, _, cleanup, err := newSender(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		batchSize := cfg.SyncOptions().BatchSize
		total := 0
		for {
			res, err := q.PeekAndDelete(ctx, batchSize, func(ctx context.Context, entries []telemetry.QueueEntry) bool {
				resp := sender.SendBatch(ctx, uplink.BatchRequest{
					Locations: entries,
					DeviceID:  cfg.DeviceID,
					SentAt:    telemetry.NowMillis(),
				})
				if !resp.Success {
					logger.Error("batch rejected", "error", resp.Error)
				}
				return resp.Success
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("uplink rejected batch after %d sent entries", total)
			}
			total += res.Count
			if res.Count < batchSize {
				break
			}
		}

		stats, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("drained %d entries, %d remaining\n", total, stats.Count)
		return nil
	},
}
