package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed       AlertType = "run_failed"
	AlertMemberFailures  AlertType = "member_failure_rate"
	AlertCriticalMembers AlertType = "critical_members"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minAttempted is the batch size below which the failure rate is ignored.
const minAttempted = 5

// AlertConfig holds alert thresholds and the webhook destination.
type AlertConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CriticalThreshold    int     `yaml:"critical_threshold" mapstructure:"critical_threshold"`
}

// Alerter evaluates a finished run and its summary against configured
// thresholds and sends alerts via webhook.
type Alerter struct {
	cfg    AlertConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter.
func NewAlerter(cfg AlertConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks a run and the summary of its date. Either may be nil.
func (a *Alerter) Evaluate(run *model.SnapshotRun, sum *Summary) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if run != nil && run.Status == model.RunStatusFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message:  fmt.Sprintf("Snapshot run %s for %s failed: %s", run.ID, run.SnapshotDate, run.Error),
			Details: map[string]any{
				"run_id":    run.ID,
				"processed": run.Processed,
				"failed":    run.Failed,
			},
			Timestamp: now,
		})
	}

	if run != nil && a.cfg.FailureRateThreshold > 0 {
		attempted := run.Processed + run.Failed
		if attempted >= minAttempted {
			rate := float64(run.Failed) / float64(attempted)
			if rate > a.cfg.FailureRateThreshold {
				alerts = append(alerts, Alert{
					Type:     AlertMemberFailures,
					Severity: "high",
					Message: fmt.Sprintf(
						"Member failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
						rate*100, a.cfg.FailureRateThreshold*100, run.Failed, attempted,
					),
					Details: map[string]any{
						"failure_rate": rate,
						"threshold":    a.cfg.FailureRateThreshold,
						"failed":       run.Failed,
						"attempted":    attempted,
					},
					Timestamp: now,
				})
			}
		}
	}

	if sum != nil && a.cfg.CriticalThreshold > 0 && sum.Critical >= a.cfg.CriticalThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalMembers,
			Severity: "medium",
			Message: fmt.Sprintf("%d members are critical on %s (threshold %d)",
				sum.Critical, sum.SnapshotDate, a.cfg.CriticalThreshold),
			Details: map[string]any{
				"critical": sum.Critical,
				"total":    sum.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
