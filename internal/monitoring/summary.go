// Package monitoring aggregates stored snapshots into dashboard figures and
// raises alerts for unhealthy runs.
package monitoring

import (
	"github.com/makerspace/member-success/internal/model"
)

// Risk score cut-offs used by the dashboard.
const (
	AtRiskMinScore     = 1
	CriticalMinScore   = 50
	ActionableMinScore = 20
)

// StageSummary counts the members of one lifecycle stage.
type StageSummary struct {
	Stage      model.Stage `json:"stage"`
	Total      int         `json:"total"`
	Actionable int         `json:"actionable"`
}

// Summary is the aggregate view of one snapshot date.
type Summary struct {
	SnapshotDate string         `json:"snapshot_date"`
	SnapshotType string         `json:"snapshot_type"`
	Total        int            `json:"total"`
	AtRisk       int            `json:"at_risk"`
	Critical     int            `json:"critical"`
	Stages       []StageSummary `json:"stages"`
}

// Stage returns the summary row for s.
func (s Summary) Stage(stage model.Stage) StageSummary {
	for _, row := range s.Stages {
		if row.Stage == stage {
			return row
		}
	}
	return StageSummary{Stage: stage}
}

// Summarize counts snapshots. Every known stage gets a row, in dashboard
// order, even when it is empty.
func Summarize(snaps []model.Snapshot) Summary {
	idx := make(map[model.Stage]int, len(model.Stages))
	sum := Summary{Stages: make([]StageSummary, len(model.Stages))}
	for i, st := range model.Stages {
		idx[st] = i
		sum.Stages[i].Stage = st
	}

	for _, snap := range snaps {
		sum.Total++
		if snap.RiskScore >= AtRiskMinScore {
			sum.AtRisk++
		}
		if snap.RiskScore >= CriticalMinScore {
			sum.Critical++
		}
		i, ok := idx[snap.Stage]
		if !ok {
			continue
		}
		sum.Stages[i].Total++
		if snap.RiskScore >= ActionableMinScore {
			sum.Stages[i].Actionable++
		}
	}
	return sum
}
