package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Stage is the mutually exclusive lifecycle classification of a member.
type Stage string

const (
	StageOnboarding Stage = "onboarding"
	StageEngagement Stage = "engagement"
	StageRetention  Stage = "retention"
	StageRecovery   Stage = "recovery"
)

// Stages lists every stage in dashboard order.
var Stages = []Stage{StageOnboarding, StageEngagement, StageRetention, StageRecovery}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageOnboarding, StageEngagement, StageRetention, StageRecovery:
		return true
	}
	return false
}

// TenureBucket is a coarse membership-age classification. The zero value
// means the bucket is unknown.
type TenureBucket string

const (
	TenureUnknown    TenureBucket = ""
	TenureOnboarding TenureBucket = "onboarding"
	TenureNewMember  TenureBucket = "new_member"
	TenureSustaining TenureBucket = "sustaining"
)

// Reason is a risk reason code.
type Reason string

const (
	ReasonPaymentIssue     Reason = "payment_issue"
	ReasonDoorBadgePending Reason = "door_badge_pending"
	ReasonMissingSerial    Reason = "missing_serial"
	ReasonNoBadge1         Reason = "no_badge_1"
	ReasonNoBadge4         Reason = "no_badge_4"
	ReasonInactive         Reason = "inactive"
)

var reasonPoints = map[Reason]int{
	ReasonPaymentIssue:     50,
	ReasonDoorBadgePending: 20,
	ReasonMissingSerial:    10,
	ReasonNoBadge1:         20,
	ReasonNoBadge4:         20,
	ReasonInactive:         20,
}

// Points returns the risk points contributed by the reason; 0 for unknown codes.
func (r Reason) Points() int {
	return reasonPoints[r]
}

// PointsFor sums the points of the given reasons.
func PointsFor(reasons []Reason) int {
	total := 0
	for _, r := range reasons {
		total += r.Points()
	}
	return total
}

// DefaultSnapshotType is the snapshot type written by the daily build.
const DefaultSnapshotType = "daily"

// DateLayout is the calendar date format used for snapshot dates.
const DateLayout = "2006-01-02"

// SnapshotKey identifies a stored snapshot.
type SnapshotKey struct {
	MemberID     int64  `json:"member_id"`
	SnapshotDate string `json:"snapshot_date"`
	SnapshotType string `json:"snapshot_type"`
}

// Validate checks the key fields.
func (k SnapshotKey) Validate() error {
	if k.MemberID <= 0 {
		return eris.Errorf("snapshot key: member id must be positive (got %d)", k.MemberID)
	}
	if _, err := time.Parse(DateLayout, k.SnapshotDate); err != nil {
		return eris.Wrapf(err, "snapshot key: invalid date %q", k.SnapshotDate)
	}
	if k.SnapshotType == "" {
		return eris.New("snapshot key: snapshot type is required")
	}
	return nil
}

// Snapshot is one persisted, dated, scored record per member.
type Snapshot struct {
	MemberID     int64  `json:"member_id"`
	SnapshotDate string `json:"snapshot_date"`
	SnapshotType string `json:"snapshot_type"`

	Stage        Stage        `json:"stage"`
	RiskScore    int          `json:"risk_score"`
	RiskReasons  []Reason     `json:"risk_reasons"`
	TenureBucket TenureBucket `json:"tenure_bucket,omitempty"`

	JoinDate         string     `json:"join_date,omitempty"`
	OrientationDate  string     `json:"orientation_date,omitempty"`
	DoorBadgeStatus  string     `json:"door_badge_status,omitempty"`
	SerialPresent    bool       `json:"serial_present"`
	BadgeCountTotal  int        `json:"badge_count_total"`
	BadgeCountWindow int        `json:"badge_count_window"`
	MembershipType   string     `json:"membership_type,omitempty"`
	LastBadgeAt      *time.Time `json:"last_badge_at,omitempty"`
	LastVisitAt      *time.Time `json:"last_visit_at,omitempty"`
	VisitCount30d    int        `json:"visit_count_30d"`
	PaymentFailed    bool       `json:"payment_failed"`
	PaymentPause     bool       `json:"payment_pause"`
	PaymentStatus    string     `json:"payment_status,omitempty"`

	DoNotPhone              bool   `json:"do_not_phone"`
	DoNotEmail              bool   `json:"do_not_email"`
	DoNotSMS                bool   `json:"do_not_sms"`
	DoNotMail               bool   `json:"do_not_mail"`
	PreferredOutreachMethod string `json:"preferred_outreach_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Key returns the snapshot's identifying key.
func (s Snapshot) Key() SnapshotKey {
	return SnapshotKey{MemberID: s.MemberID, SnapshotDate: s.SnapshotDate, SnapshotType: s.SnapshotType}
}

// CRM returns the denormalized CRM flags.
func (s Snapshot) CRM() CRMFlags {
	return CRMFlags{
		DoNotPhone:              s.DoNotPhone,
		DoNotEmail:              s.DoNotEmail,
		DoNotSMS:                s.DoNotSMS,
		DoNotMail:               s.DoNotMail,
		PreferredOutreachMethod: s.PreferredOutreachMethod,
	}
}

// ScoreConsistent reports whether RiskScore matches the points of RiskReasons.
func (s Snapshot) ScoreConsistent() bool {
	return s.RiskScore == PointsFor(s.RiskReasons)
}
