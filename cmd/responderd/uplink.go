package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"responderd/internal/config"
	"responderd/internal/syncer"
	"responderd/internal/uplink"
)

// alwaysOnline stands in for the reachability probe when the sender has
// no remote endpoint to dial.
type alwaysOnline struct{}

func (alwaysOnline) Online(context.Context) bool { return true }

// newSender sets up the batch sender and network checker based on config.
// It returns a cleanup function to close any resources.
func newSender(cfg *config.Config, logger *slog.Logger) (uplink.Sender, syncer.NetworkChecker, func(), error) {
	cleanup := func() {}

	sender, network, err := baseSender(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Uplink.JournalFile == "" {
		return sender, network, cleanup, nil
	}

	journal, err := uplink.NewJournalSender(cfg.Uplink.JournalFile)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup = func() { journal.Close() }
	return uplink.NewMultiSender(sender, logger, journal), network, cleanup, nil
}

// baseSender chooses the primary sender for the configured uplink mode.
func baseSender(cfg *config.Config, logger *slog.Logger) (uplink.Sender, syncer.NetworkChecker, error) {
	switch cfg.Uplink.Mode {
	case "http":
		prober, err := uplink.NewProber(cfg.Uplink.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing uplink endpoint: %w", err)
		}
		return uplink.NewHTTPSender(cfg.Uplink.Endpoint, cfg.UplinkTimeout(), logger), prober, nil

	case "greptime":
		sender, err := uplink.NewGreptimeSender(cfg.Uplink.Endpoint, cfg.Uplink.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		probeURL := cfg.Uplink.Endpoint
		if !strings.Contains(probeURL, "://") {
			probeURL = "http://" + probeURL
		}
		prober, err := uplink.NewProber(probeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing uplink endpoint: %w", err)
		}
		return sender, prober, nil

	case "stdout":
		return uplink.NewStdoutSender(), alwaysOnline{}, nil
	}
	return nil, nil, fmt.Errorf("unknown uplink mode %q", cfg.Uplink.Mode)
}
