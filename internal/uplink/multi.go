package uplink

import (
	"context"
	"log/slog"
)

// MultiSender fans a batch out to a primary sender plus secondaries.
// Only the primary's acknowledgement counts: a failing journal must not
// cause redelivery, and a succeeding journal must not mask a failed
// ingestion.
type MultiSender struct {
	primary     Sender
	secondaries []Sender
	logger      *slog.Logger
}

// NewMultiSender wraps primary with extra best-effort senders.
func NewMultiSender(primary Sender, logger *slog.Logger, secondaries ...Sender) *MultiSender {
	return &MultiSender{
		primary:     primary,
		secondaries: secondaries,
		logger:      logger.With("component", "uplink"),
	}
}

// SendBatch delivers to all senders and returns the primary's response.
func (s *MultiSender) SendBatch(ctx context.Context, req BatchRequest) BatchResponse {
	resp := s.primary.SendBatch(ctx, req)
	for _, sec := range s.secondaries {
		if r := sec.SendBatch(ctx, req); !r.Success {
			s.logger.Warn("secondary sender failed", "err", r.Error)
		}
	}
	return resp
}
