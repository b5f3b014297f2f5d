package model

import "time"

// DoorBadgeStatusActive is the badge request status of an approved badge.
const DoorBadgeStatusActive = "active"

// CRMFlags holds contact preferences pulled from the CRM.
type CRMFlags struct {
	DoNotPhone              bool   `json:"do_not_phone"`
	DoNotEmail              bool   `json:"do_not_email"`
	DoNotSMS                bool   `json:"do_not_sms"`
	DoNotMail               bool   `json:"do_not_mail"`
	PreferredOutreachMethod string `json:"preferred_outreach_method,omitempty"`
}

// MemberFacts is the flattened set of raw facts a snapshot is computed from.
// Empty strings and nil instants mean the value is absent.
type MemberFacts struct {
	MemberID int64 `json:"member_id"`

	// Profile.
	JoinDate       *time.Time `json:"join_date,omitempty"` // midnight, local zone
	SerialPresent  bool       `json:"serial_present"`
	PaymentStatus  string     `json:"payment_status,omitempty"`
	MembershipType string     `json:"membership_type,omitempty"`

	// Payment flags.
	PaymentFailed bool `json:"payment_failed"`
	PaymentPause  bool `json:"payment_pause"`

	// Door badge: most recent request for the configured door badge term.
	DoorBadgeStatus  string     `json:"door_badge_status,omitempty"`
	DoorBadgeCreated *time.Time `json:"door_badge_created,omitempty"`

	// Other approved badges.
	BadgeCountTotal  int        `json:"badge_count_total"`
	BadgeCountWindow int        `json:"badge_count_window"`
	LastBadgeAt      *time.Time `json:"last_badge_at,omitempty"`

	// Access-control visits.
	LastVisitAt   *time.Time `json:"last_visit_at,omitempty"`
	VisitCount30d int        `json:"visit_count_30d"`

	CRM CRMFlags `json:"crm"`
}

// ActivationTime returns the origin for tenure and engagement-window
// calculations: the door badge request time when one exists, otherwise the
// join date. Nil when neither is known.
func (f MemberFacts) ActivationTime() *time.Time {
	if f.DoorBadgeCreated != nil {
		return f.DoorBadgeCreated
	}
	return f.JoinDate
}

// PaymentIssue reports whether either payment flag is set.
func (f MemberFacts) PaymentIssue() bool {
	return f.PaymentFailed || f.PaymentPause
}

// DoorBadgeActive reports whether the member's door badge has been approved.
func (f MemberFacts) DoorBadgeActive() bool {
	return f.DoorBadgeStatus == DoorBadgeStatusActive
}
