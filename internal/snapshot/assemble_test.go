package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/makerspace/member-success/internal/model"
)

func TestAssemble(t *testing.T) {
	join := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	door := time.Date(2024, 3, 9, 18, 45, 0, 0, time.UTC)
	lastVisit := testNow.Add(-48 * time.Hour)

	f := model.MemberFacts{
		MemberID:         9,
		JoinDate:         &join,
		SerialPresent:    true,
		PaymentStatus:    "current",
		MembershipType:   "Family",
		DoorBadgeStatus:  "active",
		DoorBadgeCreated: &door,
		BadgeCountTotal:  5,
		BadgeCountWindow: 1,
		LastVisitAt:      &lastVisit,
		VisitCount30d:    3,
		CRM:              model.CRMFlags{DoNotEmail: true, PreferredOutreachMethod: "Phone"},
	}
	key := model.SnapshotKey{MemberID: 9, SnapshotDate: "2025-06-15", SnapshotType: "daily"}
	reasons := []model.Reason{model.ReasonInactive}

	snap := Assemble(key, f, model.StageRetention, model.TenureSustaining, 20, reasons, testNow)

	assert.Equal(t, key, snap.Key())
	assert.Equal(t, model.StageRetention, snap.Stage)
	assert.Equal(t, model.TenureSustaining, snap.TenureBucket)
	assert.Equal(t, 20, snap.RiskScore)
	assert.Equal(t, reasons, snap.RiskReasons)
	assert.True(t, snap.ScoreConsistent())
	assert.Equal(t, "2024-03-01", snap.JoinDate)
	assert.Equal(t, "2024-03-09", snap.OrientationDate)
	assert.Equal(t, "active", snap.DoorBadgeStatus)
	assert.True(t, snap.SerialPresent)
	assert.Equal(t, 5, snap.BadgeCountTotal)
	assert.Equal(t, 1, snap.BadgeCountWindow)
	assert.Equal(t, "Family", snap.MembershipType)
	assert.Equal(t, &lastVisit, snap.LastVisitAt)
	assert.Equal(t, 3, snap.VisitCount30d)
	assert.Equal(t, "current", snap.PaymentStatus)
	assert.Equal(t, f.CRM, snap.CRM())
	assert.Equal(t, testNow, snap.CreatedAt)

	reasons[0] = model.ReasonPaymentIssue
	assert.Equal(t, model.ReasonInactive, snap.RiskReasons[0], "reasons are copied")
}

func TestAssemble_EmptyFacts(t *testing.T) {
	key := model.SnapshotKey{MemberID: 1, SnapshotDate: "2025-06-15", SnapshotType: "daily"}
	snap := Assemble(key, model.MemberFacts{MemberID: 1}, model.StageOnboarding, model.TenureOnboarding, 0, nil, testNow)

	assert.NotNil(t, snap.RiskReasons)
	assert.Empty(t, snap.RiskReasons)
	assert.Empty(t, snap.JoinDate)
	assert.Empty(t, snap.OrientationDate)
	assert.Nil(t, snap.LastVisitAt)
}

func TestStaticThresholds(t *testing.T) {
	th, err := StaticThresholds(model.Thresholds{BadgeOneDays: 14}).Thresholds(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, 14, th.BadgeOneDays)
	assert.Equal(t, model.DefaultBadgeFourDays, th.BadgeFourDays)
	assert.Equal(t, model.DefaultRetentionRecencyDays(), th.RetentionRecencyDays)
}
