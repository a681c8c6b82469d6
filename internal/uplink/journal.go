package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JournalSender appends every delivered entry to a JSONL file. Meant as a
// secondary sender behind MultiSender for local export, never as the
// primary acknowledgement path.
type JournalSender struct {
	file *os.File
	enc  *json.Encoder
}

// NewJournalSender creates (truncates) the journal file.
func NewJournalSender(path string) (*JournalSender, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating journal file: %w", err)
	}
	return &JournalSender{file: f, enc: json.NewEncoder(f)}, nil
}

// SendBatch appends the entries. An encode error reports failure so a
// MultiSender can log it, but the journal never gates delivery.
func (s *JournalSender) SendBatch(ctx context.Context, req BatchRequest) BatchResponse {
	for _, e := range req.Locations {
		if err := s.enc.Encode(e); err != nil {
			return BatchResponse{Success: false, Error: err.Error()}
		}
	}
	return BatchResponse{
		Success:         true,
		ProcessedCount:  len(req.Locations),
		ServerTimestamp: time.Now().UnixMilli(),
	}
}

// Close closes the journal file.
func (s *JournalSender) Close() error {
	return s.file.Close()
}
