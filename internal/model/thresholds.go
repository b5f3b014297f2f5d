package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Default threshold values used when configuration leaves a value unset.
const (
	DefaultDoorBadgeTermID = 1519
	DefaultBadgeOneDays    = 28
	DefaultBadgeFourDays   = 180
	DefaultNewMemberDays   = 180
)

// DefaultRetentionRecencyDays returns the default inactivity windows.
func DefaultRetentionRecencyDays() []int {
	return []int{30, 60, 90}
}

// Thresholds holds the administrator-tunable scoring configuration.
type Thresholds struct {
	DoorBadgeTermID      int   `json:"door_badge_term_id" yaml:"door_badge_term_id" mapstructure:"door_badge_term_id"`
	BadgeOneDays         int   `json:"badge_one_days" yaml:"badge_one_days" mapstructure:"badge_one_days"`
	BadgeFourDays        int   `json:"badge_four_days" yaml:"badge_four_days" mapstructure:"badge_four_days"`
	NewMemberDays        int   `json:"new_member_days" yaml:"new_member_days" mapstructure:"new_member_days"`
	RetentionRecencyDays []int `json:"retention_recency_days" yaml:"retention_recency_days" mapstructure:"retention_recency_days"`
}

// DefaultThresholds returns Thresholds with every value at its default.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DoorBadgeTermID:      DefaultDoorBadgeTermID,
		BadgeOneDays:         DefaultBadgeOneDays,
		BadgeFourDays:        DefaultBadgeFourDays,
		NewMemberDays:        DefaultNewMemberDays,
		RetentionRecencyDays: DefaultRetentionRecencyDays(),
	}
}

// WithDefaults returns a copy with unset values replaced by their defaults.
// A nil recency list is unset; an empty one disables the inactivity rule.
func (t Thresholds) WithDefaults() Thresholds {
	if t.DoorBadgeTermID == 0 {
		t.DoorBadgeTermID = DefaultDoorBadgeTermID
	}
	if t.BadgeOneDays == 0 {
		t.BadgeOneDays = DefaultBadgeOneDays
	}
	if t.BadgeFourDays == 0 {
		t.BadgeFourDays = DefaultBadgeFourDays
	}
	if t.NewMemberDays == 0 {
		t.NewMemberDays = DefaultNewMemberDays
	}
	if t.RetentionRecencyDays == nil {
		t.RetentionRecencyDays = DefaultRetentionRecencyDays()
	} else {
		t.RetentionRecencyDays = append([]int(nil), t.RetentionRecencyDays...)
	}
	return t
}

// MaxRecencyDays returns the largest retention recency window, or 0 when the
// list is empty. Only this value drives the inactivity rule.
func (t Thresholds) MaxRecencyDays() int {
	maxDays := 0
	for _, d := range t.RetentionRecencyDays {
		maxDays = max(maxDays, d)
	}
	return maxDays
}

// Validate checks that every threshold is usable.
func (t Thresholds) Validate() error {
	var errs []string
	if t.DoorBadgeTermID < 1 {
		errs = append(errs, "door_badge_term_id must be >= 1")
	}
	if t.BadgeOneDays < 1 {
		errs = append(errs, "badge_one_days must be >= 1")
	}
	if t.BadgeFourDays < 1 {
		errs = append(errs, "badge_four_days must be >= 1")
	}
	if t.NewMemberDays < 1 {
		errs = append(errs, "new_member_days must be >= 1")
	}
	for i, d := range t.RetentionRecencyDays {
		if d < 1 {
			errs = append(errs, fmt.Sprintf("retention_recency_days[%d] must be >= 1", i))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("thresholds: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseRecencyDays parses a comma-separated list of day counts such as
// "30, 60, 90". Blank entries are ignored.
func ParseRecencyDays(s string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, eris.Wrapf(err, "thresholds: parse recency days %q", part)
		}
		if n < 1 {
			return nil, eris.Errorf("thresholds: recency days must be >= 1 (got %d)", n)
		}
		days = append(days, n)
	}
	return days, nil
}
