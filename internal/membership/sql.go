package membership

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	secondsPerDay    = 86400
	visitWindowDays  = 30
	badgeRequestType = "badge_request"
	accessEventType  = "access_control_request"
	badgeActive      = "active"
)

// DefaultMemberRoles are the user roles treated as active members.
var DefaultMemberRoles = []string{"member", "member_pending_approval"}

// Option configures an SQLRepository.
type Option func(*SQLRepository)

// WithLocation sets the time zone used for calendar dates (join dates and
// distinct visit days). Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(r *SQLRepository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithMemberRoles overrides the roles that mark a user as an active member.
func WithMemberRoles(roles ...string) Option {
	return func(r *SQLRepository) {
		if len(roles) > 0 {
			r.roles = roles
		}
	}
}

// SQLRepository implements Repository over the membership site's database
// schema (users, profiles, badge request nodes and access-control logs).
type SQLRepository struct {
	db    *sql.DB
	loc   *time.Location
	roles []string
}

// NewSQLRepository wraps an open database handle.
func NewSQLRepository(db *sql.DB, opts ...Option) *SQLRepository {
	r := &SQLRepository{db: db, loc: time.Local, roles: DefaultMemberRoles}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ActiveMemberIDs returns enabled users holding a member role, ordered by id.
func (r *SQLRepository) ActiveMemberIDs(ctx context.Context) ([]int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(r.roles)), ", ")
	query := `SELECT DISTINCT u.uid
		FROM users_field_data u
		INNER JOIN user__roles r ON r.entity_id = u.uid
		WHERE u.status = 1 AND r.roles_target_id IN (` + placeholders + `)
		ORDER BY u.uid`

	args := make([]any, len(r.roles))
	for i, role := range r.roles {
		args[i] = role
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "membership: query active members")
	}
	defer rows.Close() //nolint:errcheck

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "membership: scan member id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "membership: iterate active members")
	}
	return ids, nil
}

// MemberExists reports whether a user account exists for memberID.
func (r *SQLRepository) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users_field_data WHERE uid = ?`, memberID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "membership: check member %d", memberID)
	}
	return n > 0, nil
}

// Profile loads the member's default main profile.
func (r *SQLRepository) Profile(ctx context.Context, memberID int64) (Profile, error) {
	var joinDate, serial, paymentStatus, membershipType sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT jd.field_member_join_date_value,
		       cs.field_card_serial_number_value,
		       ps.field_member_payment_status_target_id,
		       term.name
		FROM profile p
		LEFT JOIN profile__field_member_join_date jd ON jd.entity_id = p.profile_id AND jd.deleted = 0
		LEFT JOIN profile__field_card_serial_number cs ON cs.entity_id = p.profile_id AND cs.deleted = 0
		LEFT JOIN profile__field_member_payment_status ps ON ps.entity_id = p.profile_id AND ps.deleted = 0
		LEFT JOIN profile__field_membership_type mt ON mt.entity_id = p.profile_id AND mt.deleted = 0
		LEFT JOIN taxonomy_term_field_data term ON term.tid = mt.field_membership_type_target_id
		WHERE p.uid = ? AND p.type = 'main' AND p.is_default = 1 AND p.status = 1
		LIMIT 1`, memberID,
	).Scan(&joinDate, &serial, &paymentStatus, &membershipType)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, eris.Wrapf(err, "membership: load profile %d", memberID)
	}

	return Profile{
		JoinDate:       r.parseDate(joinDate),
		SerialPresent:  truthy(serial),
		PaymentStatus:  paymentStatus.String,
		MembershipType: membershipType.String,
	}, nil
}

// UserFlags loads the user-level card serial and payment flags.
func (r *SQLRepository) UserFlags(ctx context.Context, memberID int64) (UserFlags, error) {
	serial, err := r.userField(ctx, "user__field_card_serial_number", "field_card_serial_number_value", memberID)
	if err != nil {
		return UserFlags{}, err
	}
	failed, err := r.userField(ctx, "user__field_payment_failed", "field_payment_failed_value", memberID)
	if err != nil {
		return UserFlags{}, err
	}
	pause, err := r.userField(ctx, "user__field_chargebee_payment_pause", "field_chargebee_payment_pause_value", memberID)
	if err != nil {
		return UserFlags{}, err
	}

	return UserFlags{
		SerialPresent: truthy(serial),
		PaymentFailed: truthy(failed),
		PaymentPause:  truthy(pause),
	}, nil
}

// userField reads a single-value user field. Table and column names are
// package constants, never user input.
func (r *SQLRepository) userField(ctx context.Context, table, column string, memberID int64) (sql.NullString, error) {
	var v sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT `+column+` FROM `+table+` WHERE entity_id = ? AND deleted = 0 LIMIT 1`, memberID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, nil
	}
	if err != nil {
		return sql.NullString{}, eris.Wrapf(err, "membership: load %s for %d", table, memberID)
	}
	return v, nil
}

// DoorBadge loads the most recent published request for the door badge term,
// whatever its status.
func (r *SQLRepository) DoorBadge(ctx context.Context, memberID int64, doorBadgeTermID int) (DoorBadge, error) {
	var created sql.NullInt64
	var status sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT n.created, st.field_badge_status_value
		FROM node_field_data n
		INNER JOIN node__field_member_to_badge m ON m.entity_id = n.nid AND m.deleted = 0
		INNER JOIN node__field_badge_requested b ON b.entity_id = n.nid AND b.deleted = 0
		LEFT JOIN node__field_badge_status st ON st.entity_id = n.nid AND st.deleted = 0
		WHERE n.type = ? AND n.status = 1
		  AND m.field_member_to_badge_target_id = ?
		  AND b.field_badge_requested_target_id = ?
		ORDER BY n.created DESC
		LIMIT 1`, badgeRequestType, memberID, doorBadgeTermID,
	).Scan(&created, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return DoorBadge{}, nil
	}
	if err != nil {
		return DoorBadge{}, eris.Wrapf(err, "membership: load door badge for %d", memberID)
	}
	return DoorBadge{Status: status.String, CreatedAt: r.unix(created)}, nil
}

// BadgeStats counts approved non-door badges, in total and created within
// windowDays before now.
func (r *SQLRepository) BadgeStats(ctx context.Context, memberID int64, doorBadgeTermID, windowDays int, now time.Time) (BadgeStats, error) {
	windowStart := now.Unix() - int64(windowDays)*secondsPerDay

	var total int
	var inWindow, last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(n.nid),
		       SUM(CASE WHEN n.created >= ? THEN 1 ELSE 0 END),
		       MAX(n.created)
		FROM node_field_data n
		INNER JOIN node__field_member_to_badge m ON m.entity_id = n.nid AND m.deleted = 0
		INNER JOIN node__field_badge_requested b ON b.entity_id = n.nid AND b.deleted = 0
		INNER JOIN node__field_badge_status st ON st.entity_id = n.nid AND st.deleted = 0
		WHERE n.type = ? AND n.status = 1
		  AND m.field_member_to_badge_target_id = ?
		  AND b.field_badge_requested_target_id <> ?
		  AND st.field_badge_status_value = ?`,
		windowStart, badgeRequestType, memberID, doorBadgeTermID, badgeActive,
	).Scan(&total, &inWindow, &last)
	if err != nil {
		return BadgeStats{}, eris.Wrapf(err, "membership: load badge stats for %d", memberID)
	}

	return BadgeStats{
		CountTotal:  total,
		CountWindow: int(inWindow.Int64),
		LastBadgeAt: r.unix(last),
	}, nil
}

// VisitStats returns the most recent access event and the number of distinct
// calendar days with an access event in the 30 days before now.
func (r *SQLRepository) VisitStats(ctx context.Context, memberID int64, now time.Time) (VisitStats, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(acl.created)
		FROM access_control_log_field_data acl
		INNER JOIN access_control_log__field_access_request_user ur ON ur.entity_id = acl.id
		WHERE acl.type = ? AND ur.field_access_request_user_target_id = ?`,
		accessEventType, memberID,
	).Scan(&last)
	if err != nil {
		return VisitStats{}, eris.Wrapf(err, "membership: load last visit for %d", memberID)
	}

	windowStart := now.Unix() - visitWindowDays*secondsPerDay
	rows, err := r.db.QueryContext(ctx, `
		SELECT acl.created
		FROM access_control_log_field_data acl
		INNER JOIN access_control_log__field_access_request_user ur ON ur.entity_id = acl.id
		WHERE acl.type = ? AND ur.field_access_request_user_target_id = ? AND acl.created >= ?`,
		accessEventType, memberID, windowStart,
	)
	if err != nil {
		return VisitStats{}, eris.Wrapf(err, "membership: query visits for %d", memberID)
	}
	defer rows.Close() //nolint:errcheck

	days := make(map[string]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return VisitStats{}, eris.Wrap(err, "membership: scan visit")
		}
		days[time.Unix(ts, 0).In(r.loc).Format(time.DateOnly)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return VisitStats{}, eris.Wrap(err, "membership: iterate visits")
	}

	return VisitStats{LastVisitAt: r.unix(last), VisitCount30d: len(days)}, nil
}

// parseDate parses a stored date field ("2006-01-02", optionally followed by
// a time part) as midnight in the repository's location.
func (r *SQLRepository) parseDate(v sql.NullString) *time.Time {
	s := strings.TrimSpace(v.String)
	if !v.Valid || len(s) < len(time.DateOnly) {
		return nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s[:len(time.DateOnly)], r.loc)
	if err != nil {
		return nil
	}
	return &t
}

func (r *SQLRepository) unix(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 == 0 {
		return nil
	}
	t := time.Unix(v.Int64, 0).In(r.loc)
	return &t
}

// truthy treats NULL, empty strings and "0" as false, like the field storage
// does for boolean and serial fields.
func truthy(v sql.NullString) bool {
	if !v.Valid {
		return false
	}
	s := strings.TrimSpace(v.String)
	return s != "" && s != "0"
}
