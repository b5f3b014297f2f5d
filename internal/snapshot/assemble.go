package snapshot

import (
	"time"

	"github.com/makerspace/member-success/internal/model"
)

// Assemble combines a key, facts and the computed classification into a
// Snapshot. Reasons are copied; a nil slice becomes an empty one.
func Assemble(key model.SnapshotKey, f model.MemberFacts, stage model.Stage, tenure model.TenureBucket, score int, reasons []model.Reason, now time.Time) model.Snapshot {
	rs := make([]model.Reason, len(reasons))
	copy(rs, reasons)

	return model.Snapshot{
		MemberID:     key.MemberID,
		SnapshotDate: key.SnapshotDate,
		SnapshotType: key.SnapshotType,

		Stage:        stage,
		RiskScore:    score,
		RiskReasons:  rs,
		TenureBucket: tenure,

		JoinDate:         formatDate(f.JoinDate),
		OrientationDate:  formatDate(f.DoorBadgeCreated),
		DoorBadgeStatus:  f.DoorBadgeStatus,
		SerialPresent:    f.SerialPresent,
		BadgeCountTotal:  f.BadgeCountTotal,
		BadgeCountWindow: f.BadgeCountWindow,
		MembershipType:   f.MembershipType,
		LastBadgeAt:      f.LastBadgeAt,
		LastVisitAt:      f.LastVisitAt,
		VisitCount30d:    f.VisitCount30d,
		PaymentFailed:    f.PaymentFailed,
		PaymentPause:     f.PaymentPause,
		PaymentStatus:    f.PaymentStatus,

		DoNotPhone:              f.CRM.DoNotPhone,
		DoNotEmail:              f.CRM.DoNotEmail,
		DoNotSMS:                f.CRM.DoNotSMS,
		DoNotMail:               f.CRM.DoNotMail,
		PreferredOutreachMethod: f.CRM.PreferredOutreachMethod,

		CreatedAt: now,
	}
}

// formatDate renders the calendar date of t in its own location.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(model.DateLayout)
}
