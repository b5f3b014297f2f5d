// Package lifecycle classifies members into lifecycle stages and scores their
// risk. Every function is pure: the current instant is always passed in.
package lifecycle

import (
	"time"

	"github.com/makerspace/member-success/internal/model"
)

const secondsPerDay int64 = 86400

// Classify derives the lifecycle stage and tenure bucket for a member.
//
// Stage priority, first match wins:
//  1. recovery when either payment flag is set;
//  2. engagement or retention when the door badge is active and a card serial
//     is on file, split by the badge_four_days engagement window;
//  3. onboarding otherwise.
func Classify(f model.MemberFacts, th model.Thresholds, now time.Time) (model.Stage, model.TenureBucket) {
	stage := classifyStage(f, th, now)
	return stage, tenureBucket(f, stage, th, now)
}

func classifyStage(f model.MemberFacts, th model.Thresholds, now time.Time) model.Stage {
	if f.PaymentIssue() {
		return model.StageRecovery
	}
	if !f.DoorBadgeActive() || !f.SerialPresent {
		return model.StageOnboarding
	}

	window := int64(th.BadgeFourDays) * secondsPerDay
	if act := f.ActivationTime(); act != nil && secondsSince(*act, now) <= window {
		return model.StageEngagement
	}
	return model.StageRetention
}

func tenureBucket(f model.MemberFacts, stage model.Stage, th model.Thresholds, now time.Time) model.TenureBucket {
	if stage == model.StageOnboarding {
		return model.TenureOnboarding
	}
	if f.JoinDate == nil {
		return model.TenureUnknown
	}

	join := midnight(*f.JoinDate)
	days := floorDiv(secondsSince(join, now), secondsPerDay)
	if days <= int64(th.NewMemberDays) {
		return model.TenureNewMember
	}
	return model.TenureSustaining
}

// secondsSince returns whole seconds elapsed from t to now, negative when t
// is in the future.
func secondsSince(t, now time.Time) int64 {
	return now.Unix() - t.Unix()
}

// midnight truncates t to the start of its calendar day in t's location.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
