// Package snapshot gathers member facts, scores them and persists the result.
package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/membership"
	"github.com/makerspace/member-success/internal/model"
)

// Aggregator flattens repository and CRM data into MemberFacts.
type Aggregator struct {
	repo membership.Repository
	crm  crm.Client
}

// NewAggregator creates an Aggregator. A nil CRM client yields empty CRM flags.
func NewAggregator(repo membership.Repository, crmClient crm.Client) *Aggregator {
	if crmClient == nil {
		crmClient = crm.Noop{}
	}
	return &Aggregator{repo: repo, crm: crmClient}
}

// Gather collects the facts for one member. Missing records yield zero
// values; repository errors are returned. CRM errors are logged and the CRM
// flags are left empty.
func (a *Aggregator) Gather(ctx context.Context, memberID int64, th model.Thresholds, now time.Time) (model.MemberFacts, error) {
	f := model.MemberFacts{MemberID: memberID}

	profile, err := a.repo.Profile(ctx, memberID)
	if err != nil {
		return f, err
	}
	f.JoinDate = profile.JoinDate
	f.PaymentStatus = profile.PaymentStatus
	f.MembershipType = profile.MembershipType

	flags, err := a.repo.UserFlags(ctx, memberID)
	if err != nil {
		return f, err
	}
	f.SerialPresent = profile.SerialPresent || flags.SerialPresent
	f.PaymentFailed = flags.PaymentFailed
	f.PaymentPause = flags.PaymentPause

	door, err := a.repo.DoorBadge(ctx, memberID, th.DoorBadgeTermID)
	if err != nil {
		return f, err
	}
	f.DoorBadgeStatus = door.Status
	f.DoorBadgeCreated = door.CreatedAt

	badges, err := a.repo.BadgeStats(ctx, memberID, th.DoorBadgeTermID, th.BadgeFourDays, now)
	if err != nil {
		return f, err
	}
	f.BadgeCountTotal = badges.CountTotal
	f.BadgeCountWindow = badges.CountWindow
	f.LastBadgeAt = badges.LastBadgeAt

	visits, err := a.repo.VisitStats(ctx, memberID, now)
	if err != nil {
		return f, err
	}
	f.LastVisitAt = visits.LastVisitAt
	f.VisitCount30d = visits.VisitCount30d

	crmFlags, err := a.crm.ContactFlags(ctx, memberID)
	if err != nil {
		zap.L().Warn("snapshot: crm unavailable, using empty contact flags",
			zap.Int64("member_id", memberID),
			zap.Error(err),
		)
		crmFlags = model.CRMFlags{}
	}
	f.CRM = crmFlags

	return f, nil
}
