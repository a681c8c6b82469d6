package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds one batch POST.
const DefaultRequestTimeout = 30 * time.Second

// HTTPSender posts batches to the remote ingestion endpoint
// (POST {base}/api/locations).
type HTTPSender struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSender creates a sender for baseURL. timeout <= 0 selects
// DefaultRequestTimeout.
func NewHTTPSender(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "uplink"),
	}
}

// SendBatch posts the batch. Transport errors, timeouts, and non-2xx
// statuses all come back as Success false so the sync engine backs off.
func (s *HTTPSender) SendBatch(ctx context.Context, req BatchRequest) BatchResponse {
	body, err := json.Marshal(req)
	if err != nil {
		return BatchResponse{Success: false, Error: fmt.Sprintf("encoding batch: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/locations", bytes.NewReader(body))
	if err != nil {
		return BatchResponse{Success: false, Error: fmt.Sprintf("building request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	s.logger.Debug("sending batch", "count", len(req.Locations), "endpoint", s.baseURL)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("batch send failed", "err", err)
		return BatchResponse{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Warn("batch rejected", "status", resp.StatusCode)
		return BatchResponse{Success: false, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var ack BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return BatchResponse{Success: false, Error: fmt.Sprintf("decoding response: %v", err)}
	}

	if ack.Success {
		s.logger.Debug("batch acknowledged", "processed", ack.ProcessedCount)
	}
	return ack
}
