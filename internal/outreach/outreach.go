// Package outreach turns a snapshot into a follow-up recommendation.
package outreach

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/makerspace/member-success/internal/model"
)

// Status is the follow-up state of a member within their stage.
type Status string

const (
	StatusPendingDoorBadge Status = "pending_door_badge"
	StatusNeedsKey         Status = "needs_key"
	StatusOnTrack          Status = "on_track"
	StatusStalled          Status = "stalled"
	StatusActive           Status = "active"
	StatusAbsent           Status = "absent"
	StatusVisiting         Status = "visiting"
	StatusPaymentFailed    Status = "payment_failed"
	StatusPaused           Status = "paused"
	StatusResolved         Status = "resolved"
)

// Action is the suggested email for a status that needs follow-up.
type Action string

const (
	ActionNone          Action = ""
	ActionQuizHelp      Action = "quiz_help"
	ActionPickup        Action = "pickup"
	ActionWorkshop      Action = "workshop"
	ActionWeMissYou     Action = "we_miss_you"
	ActionUpdatePayment Action = "update_payment"
)

// ChannelEmail is the only channel follow-ups are sent through.
const ChannelEmail = "email"

// Templates maps each stage to a CRM message template id.
type Templates struct {
	Onboarding string `json:"onboarding" yaml:"onboarding" mapstructure:"onboarding"`
	Engagement string `json:"engagement" yaml:"engagement" mapstructure:"engagement"`
	Retention  string `json:"retention" yaml:"retention" mapstructure:"retention"`
	Recovery   string `json:"recovery" yaml:"recovery" mapstructure:"recovery"`
}

// For returns the template configured for stage, or "".
func (t Templates) For(stage model.Stage) string {
	switch stage {
	case model.StageOnboarding:
		return t.Onboarding
	case model.StageEngagement:
		return t.Engagement
	case model.StageRetention:
		return t.Retention
	case model.StageRecovery:
		return t.Recovery
	}
	return ""
}

// Recommendation is the follow-up suggested for one snapshot.
type Recommendation struct {
	MemberID    int64       `json:"member_id"`
	Stage       model.Stage `json:"stage"`
	Status      Status      `json:"status"`
	StatusLabel string      `json:"status_label"`
	Action      Action      `json:"action,omitempty"`
	ActionLabel string      `json:"action_label,omitempty"`
	TemplateID  string      `json:"template_id,omitempty"`
	Channel     string      `json:"channel,omitempty"`
	// Blocked is set when an action exists but the member opted out of email.
	Blocked bool `json:"blocked,omitempty"`
}

// NeedsFollowUp reports whether an action is suggested.
func (r Recommendation) NeedsFollowUp() bool {
	return r.Action != ActionNone
}

// Recommend derives the follow-up for a snapshot from its stage and facts.
func Recommend(snap model.Snapshot, templates Templates) Recommendation {
	status, action := classify(snap)
	rec := Recommendation{
		MemberID:    snap.MemberID,
		Stage:       snap.Stage,
		Status:      status,
		StatusLabel: label(string(status)),
		Action:      action,
	}
	if action == ActionNone {
		return rec
	}

	rec.ActionLabel = "Email: " + label(string(action))
	rec.TemplateID = templates.For(snap.Stage)
	if snap.DoNotEmail {
		rec.Blocked = true
	} else {
		rec.Channel = ChannelEmail
	}
	return rec
}

func classify(snap model.Snapshot) (Status, Action) {
	switch snap.Stage {
	case model.StageOnboarding:
		if snap.DoorBadgeStatus != model.DoorBadgeStatusActive {
			return StatusPendingDoorBadge, ActionQuizHelp
		}
		if !snap.SerialPresent {
			return StatusNeedsKey, ActionPickup
		}
		return StatusOnTrack, ActionNone
	case model.StageEngagement:
		if snap.BadgeCountWindow == 0 {
			return StatusStalled, ActionWorkshop
		}
		return StatusActive, ActionNone
	case model.StageRetention:
		if snap.VisitCount30d == 0 {
			return StatusAbsent, ActionWeMissYou
		}
		return StatusVisiting, ActionNone
	case model.StageRecovery:
		if snap.PaymentFailed {
			return StatusPaymentFailed, ActionUpdatePayment
		}
		if snap.PaymentPause {
			return StatusPaused, ActionNone
		}
		return StatusResolved, ActionNone
	}
	return StatusOnTrack, ActionNone
}

// label renders a snake_case code as a title, e.g. "needs_key" -> "Needs Key".
// Casers are stateful, so each call gets its own.
func label(code string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(code, "_", " "))
}
