package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerspace/member-success/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(AlertConfig{FailureRateThreshold: 0.10, CriticalThreshold: 10})

	run := &model.SnapshotRun{ID: "r1", Status: model.RunStatusComplete, Processed: 95, Failed: 5}
	alerts := a.Evaluate(run, &Summary{Total: 100, Critical: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailed(t *testing.T) {
	a := NewAlerter(AlertConfig{})

	run := &model.SnapshotRun{ID: "r1", SnapshotDate: "2025-06-15", Status: model.RunStatusFailed, Error: "load active members"}
	alerts := a.Evaluate(run, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailed, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "load active members")
}

func TestAlerter_Evaluate_MemberFailureRate(t *testing.T) {
	a := NewAlerter(AlertConfig{FailureRateThreshold: 0.10})

	run := &model.SnapshotRun{ID: "r1", Status: model.RunStatusComplete, Processed: 12, Failed: 8}
	alerts := a.Evaluate(run, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMemberFailures, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumBatchRequired(t *testing.T) {
	a := NewAlerter(AlertConfig{FailureRateThreshold: 0.10})

	// Three attempts is below the minimum batch size.
	run := &model.SnapshotRun{ID: "r1", Status: model.RunStatusComplete, Processed: 1, Failed: 2}
	assert.Empty(t, a.Evaluate(run, nil))
}

func TestAlerter_Evaluate_CriticalMembers(t *testing.T) {
	a := NewAlerter(AlertConfig{CriticalThreshold: 5})

	alerts := a.Evaluate(nil, &Summary{SnapshotDate: "2025-06-15", Total: 40, Critical: 5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCriticalMembers, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "5 members are critical on 2025-06-15")
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(AlertConfig{})

	run := &model.SnapshotRun{Status: model.RunStatusComplete, Processed: 1, Failed: 99}
	assert.Empty(t, a.Evaluate(run, &Summary{Critical: 999}))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(AlertConfig{FailureRateThreshold: 0.10, CriticalThreshold: 1})

	run := &model.SnapshotRun{ID: "r1", Status: model.RunStatusFailed, Processed: 5, Failed: 5}
	alerts := a.Evaluate(run, &Summary{Critical: 2})
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailed])
	assert.True(t, types[AlertMemberFailures])
	assert.True(t, types[AlertCriticalMembers])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(AlertConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertRunFailed, Severity: "high", Message: "test alert 1"},
		{Type: AlertCriticalMembers, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(AlertConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(AlertConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(AlertConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}
