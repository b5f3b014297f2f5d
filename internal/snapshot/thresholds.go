package snapshot

import (
	"context"

	"github.com/makerspace/member-success/internal/model"
)

// ThresholdSource supplies the current scoring thresholds.
type ThresholdSource interface {
	Thresholds(ctx context.Context) (model.Thresholds, error)
}

// StaticThresholds serves a fixed set of thresholds, typically from config.
type StaticThresholds model.Thresholds

func (s StaticThresholds) Thresholds(context.Context) (model.Thresholds, error) {
	return model.Thresholds(s).WithDefaults(), nil
}
