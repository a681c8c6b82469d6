package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// StdoutSender prints batch entries as JSONL and acknowledges everything.
// Print-only mode for development runs without a backend.
type StdoutSender struct {
	out io.Writer
}

// NewStdoutSender creates a StdoutSender writing to os.Stdout.
func NewStdoutSender() *StdoutSender {
	return &StdoutSender{out: os.Stdout}
}

// SendBatch prints each entry on its own line.
func (s *StdoutSender) SendBatch(ctx context.Context, req BatchRequest) BatchResponse {
	for _, e := range req.Locations {
		data, _ := json.Marshal(e)
		fmt.Fprintln(s.out, string(data))
	}
	return BatchResponse{
		Success:         true,
		ProcessedCount:  len(req.Locations),
		ServerTimestamp: time.Now().UnixMilli(),
	}
}
