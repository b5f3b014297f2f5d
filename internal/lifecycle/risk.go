package lifecycle

import (
	"time"

	"github.com/makerspace/member-success/internal/model"
)

// Score computes the risk score and reasons for a member already classified
// into stage. Reasons are appended in evaluation order and the score is the
// sum of their points:
//
//	payment_issue       any stage, payment failed or paused
//	door_badge_pending  onboarding, door badge not active
//	missing_serial      onboarding, no card serial on file
//	no_badge_1          engagement, past badge_one_days with no badge in window
//	no_badge_4          engagement, past badge_four_days with fewer than 4 badges
//	inactive            retention, last visit older than the longest recency window
func Score(f model.MemberFacts, stage model.Stage, th model.Thresholds, now time.Time) (int, []model.Reason) {
	reasons := make([]model.Reason, 0, 3)

	if f.PaymentIssue() {
		reasons = append(reasons, model.ReasonPaymentIssue)
	}

	switch stage {
	case model.StageOnboarding:
		if !f.DoorBadgeActive() {
			reasons = append(reasons, model.ReasonDoorBadgePending)
		}
		if !f.SerialPresent {
			reasons = append(reasons, model.ReasonMissingSerial)
		}

	case model.StageEngagement:
		act := f.ActivationTime()
		if act == nil {
			break
		}
		since := secondsSince(*act, now)
		if since >= int64(th.BadgeOneDays)*secondsPerDay && f.BadgeCountWindow < 1 {
			reasons = append(reasons, model.ReasonNoBadge1)
		}
		if since >= int64(th.BadgeFourDays)*secondsPerDay && f.BadgeCountTotal < 4 {
			reasons = append(reasons, model.ReasonNoBadge4)
		}

	case model.StageRetention:
		if f.LastVisitAt == nil {
			break
		}
		maxDays := th.MaxRecencyDays()
		if maxDays > 0 && secondsSince(*f.LastVisitAt, now) >= int64(maxDays)*secondsPerDay {
			reasons = append(reasons, model.ReasonInactive)
		}
	}

	return model.PointsFor(reasons), reasons
}
