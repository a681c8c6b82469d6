package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

const locationTable = "responder_locations"

// GreptimeSender writes location batches straight into a GreptimeDB table,
// for deployments that ingest telemetry into the time-series store without
// the HTTP backend in between.
type GreptimeSender struct {
	client *greptime.Client
	logger *slog.Logger
}

// NewGreptimeSender connects to the ingester endpoint. The location table is
// auto-created by GreptimeDB on first write, with its retention set by the
// ttl write hint in SendBatch.
func NewGreptimeSender(endpoint, database string, logger *slog.Logger) (*GreptimeSender, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		host, portStr = endpoint, ""
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("parsing greptime endpoint %q: %w", endpoint, err)
		}
		cfg = cfg.WithPort(port)
	}

	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to greptimedb: %w", err)
	}

	return &GreptimeSender{
		client: client,
		logger: logger.With("component", "uplink"),
	}, nil
}

// SendBatch inserts the batch rows. The write is the acknowledgement: any
// ingester error reports Success false.
func (s *GreptimeSender) SendBatch(ctx context.Context, req BatchRequest) BatchResponse {
	if len(req.Locations) == 0 {
		return BatchResponse{Success: true}
	}

	ictx := ingesterContext.New(ctx, ingesterContext.WithHint([]*ingesterContext.Hint{
		{Key: "ttl", Value: "30d"},
	}))

	tbl, err := table.New(locationTable)
	if err != nil {
		return BatchResponse{Success: false, Error: err.Error()}
	}
	if err := errors.Join(
		tbl.AddTagColumn("device_id", types.STRING),
		tbl.AddFieldColumn("latitude", types.FLOAT64),
		tbl.AddFieldColumn("longitude", types.FLOAT64),
		tbl.AddFieldColumn("accuracy", types.FLOAT64),
		tbl.AddFieldColumn("altitude", types.FLOAT64),
		tbl.AddFieldColumn("sequence", types.INT64),
		tbl.AddFieldColumn("created_at", types.TIMESTAMP),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP),
	); err != nil {
		return BatchResponse{Success: false, Error: err.Error()}
	}

	for _, e := range req.Locations {
		if err := tbl.AddRow(
			req.DeviceID,
			e.Latitude,
			e.Longitude,
			floatOrZero(e.Accuracy),
			floatOrZero(e.Altitude),
			e.Sequence,
			time.UnixMilli(e.CreatedAt),
			time.UnixMilli(e.Timestamp),
		); err != nil {
			return BatchResponse{Success: false, Error: err.Error()}
		}
	}

	if _, err := s.client.Write(ictx, tbl); err != nil {
		s.logger.Warn("greptime write failed", "err", err)
		return BatchResponse{Success: false, Error: err.Error()}
	}

	s.logger.Debug("wrote batch", "rows", len(req.Locations))
	return BatchResponse{
		Success:         true,
		ProcessedCount:  len(req.Locations),
		ServerTimestamp: time.Now().UnixMilli(),
	}
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
