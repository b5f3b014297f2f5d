package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerspace/member-success/internal/model"
)

func snap(id int64, stage model.Stage, score int) model.Snapshot {
	return model.Snapshot{MemberID: id, SnapshotDate: "2025-06-15", SnapshotType: "daily", Stage: stage, RiskScore: score}
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]model.Snapshot{
		snap(1, model.StageOnboarding, 30),
		snap(2, model.StageOnboarding, 10),
		snap(3, model.StageEngagement, 0),
		snap(4, model.StageEngagement, 40),
		snap(5, model.StageRecovery, 50),
		snap(6, model.StageRetention, 20),
		snap(7, model.StageRetention, 0),
	})

	assert.Equal(t, 7, sum.Total)
	assert.Equal(t, 5, sum.AtRisk)
	assert.Equal(t, 1, sum.Critical)

	require.Len(t, sum.Stages, 4)
	assert.Equal(t, model.StageOnboarding, sum.Stages[0].Stage)
	assert.Equal(t, StageSummary{Stage: model.StageOnboarding, Total: 2, Actionable: 1}, sum.Stage(model.StageOnboarding))
	assert.Equal(t, StageSummary{Stage: model.StageEngagement, Total: 2, Actionable: 1}, sum.Stage(model.StageEngagement))
	assert.Equal(t, StageSummary{Stage: model.StageRetention, Total: 2, Actionable: 1}, sum.Stage(model.StageRetention))
	assert.Equal(t, StageSummary{Stage: model.StageRecovery, Total: 1, Actionable: 1}, sum.Stage(model.StageRecovery))
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil)
	assert.Zero(t, sum.Total)
	require.Len(t, sum.Stages, 4)
	for _, row := range sum.Stages {
		assert.Zero(t, row.Total)
	}
}

func TestSummary_StageUnknown(t *testing.T) {
	assert.Equal(t, StageSummary{Stage: "archived"}, Summarize(nil).Stage("archived"))
}
