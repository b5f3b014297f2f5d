// Package membership reads raw member facts from the membership database.
package membership

import (
	"context"
	"time"
)

// Profile holds the member's main profile fields.
type Profile struct {
	JoinDate       *time.Time // midnight in the repository's location
	SerialPresent  bool
	PaymentStatus  string
	MembershipType string
}

// UserFlags holds user-level fields.
type UserFlags struct {
	SerialPresent bool
	PaymentFailed bool
	PaymentPause  bool
}

// DoorBadge is the most recent request for the door badge term.
type DoorBadge struct {
	Status    string
	CreatedAt *time.Time
}

// BadgeStats summarizes approved requests for badges other than the door badge.
type BadgeStats struct {
	CountTotal  int
	CountWindow int
	LastBadgeAt *time.Time
}

// VisitStats summarizes access-control events.
type VisitStats struct {
	LastVisitAt   *time.Time
	VisitCount30d int
}

// Repository defines the reads needed to aggregate member facts. Missing rows
// are not errors: every method returns zero values when nothing is on file.
type Repository interface {
	ActiveMemberIDs(ctx context.Context) ([]int64, error)
	MemberExists(ctx context.Context, memberID int64) (bool, error)
	Profile(ctx context.Context, memberID int64) (Profile, error)
	UserFlags(ctx context.Context, memberID int64) (UserFlags, error)
	DoorBadge(ctx context.Context, memberID int64, doorBadgeTermID int) (DoorBadge, error)
	BadgeStats(ctx context.Context, memberID int64, doorBadgeTermID, windowDays int, now time.Time) (BadgeStats, error)
	VisitStats(ctx context.Context, memberID int64, now time.Time) (VisitStats, error)
}
