// Package alert implements the AlertService: webhook dispatch with
// the Info|Warning|Critical severity taxonomy of spec §4.8. Grounded
// on original_source's snapshot/manager.rs send_snapshot_notification
// (whose per-call ad hoc client and legacy "high"/"info" labels are
// NOT reproduced — this package centralises every webhook send
// behind one shared client per spec's architecture diagram).
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/metrics"
	"github.com/cuemby/fleetops/pkg/types"
)

// Service dispatches alerts to a single configured webhook URL. An
// empty URL disables alerting entirely — "silent mode for
// development" per spec §4.8.
type Service struct {
	webhookURL string
	client     *http.Client
}

// NewService constructs a Service. Passing an empty webhookURL yields
// a Service whose Send calls are no-ops.
func NewService(webhookURL string) *Service {
	return &Service{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send dispatches one alert. Failures are logged and swallowed —
// alerting never blocks an operation (spec §4.8/§7).
func (s *Service) Send(ctx context.Context, a types.Alert) {
	logger := log.WithComponent("alert")

	if s.webhookURL == "" {
		logger.Debug().Str("target", a.NodeName).Msg("alerting disabled, dropping alert")
		return
	}

	body, err := json.Marshal(a)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal alert payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Msg("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.AlertsSentTotal.WithLabelValues(string(a.Severity)).Inc()

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("target", a.NodeName).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Warn().Int("status", resp.StatusCode).Str("target", a.NodeName).Msg("webhook returned non-success status")
	}
}

// SendMaintenanceFailure is a convenience wrapper for the one place
// the operation executor alerts: a scheduled operation's terminal
// failure (spec §4.3 step 4c).
func (s *Service) SendMaintenanceFailure(ctx context.Context, opType types.OperationType, target, server, message string, details json.RawMessage) {
	s.Send(ctx, types.Alert{
		Timestamp:  time.Now(),
		AlarmType:  types.AlertMaintenance,
		Severity:   types.SeverityCritical,
		NodeName:   target,
		Message:    message,
		ServerHost: server,
		Details:    details,
	})
}
