// Package export writes stored snapshots as CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/outreach"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name; "" selects CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", eris.Errorf("export: unknown format %q", s)
}

// SheetName is the worksheet written by the XLSX exporter.
const SheetName = "Snapshots"

// Header lists the exported columns.
var Header = []string{
	"member_id", "snapshot_date", "snapshot_type",
	"stage", "tenure_bucket", "risk_score", "risk_reasons",
	"join_date", "orientation_date", "door_badge_status", "serial_present",
	"badge_count_total", "badge_count_window", "membership_type",
	"last_badge_at", "last_visit_at", "visit_count_30d",
	"payment_failed", "payment_pause", "payment_status",
	"do_not_phone", "do_not_email", "do_not_sms", "do_not_mail", "preferred_outreach_method",
	"follow_up_status", "follow_up_action", "template_id",
}

// Row renders one snapshot in Header order.
func Row(s model.Snapshot, templates outreach.Templates) []string {
	rec := outreach.Recommend(s, templates)

	reasons := make([]string, len(s.RiskReasons))
	for i, r := range s.RiskReasons {
		reasons[i] = string(r)
	}

	return []string{
		strconv.FormatInt(s.MemberID, 10), s.SnapshotDate, s.SnapshotType,
		string(s.Stage), string(s.TenureBucket), strconv.Itoa(s.RiskScore), strings.Join(reasons, ";"),
		s.JoinDate, s.OrientationDate, s.DoorBadgeStatus, strconv.FormatBool(s.SerialPresent),
		strconv.Itoa(s.BadgeCountTotal), strconv.Itoa(s.BadgeCountWindow), s.MembershipType,
		instant(s.LastBadgeAt), instant(s.LastVisitAt), strconv.Itoa(s.VisitCount30d),
		strconv.FormatBool(s.PaymentFailed), strconv.FormatBool(s.PaymentPause), s.PaymentStatus,
		strconv.FormatBool(s.DoNotPhone), strconv.FormatBool(s.DoNotEmail),
		strconv.FormatBool(s.DoNotSMS), strconv.FormatBool(s.DoNotMail), s.PreferredOutreachMethod,
		string(rec.Status), string(rec.Action), rec.TemplateID,
	}
}

func instant(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Write exports snapshots in the given format.
func Write(w io.Writer, format Format, snaps []model.Snapshot, templates outreach.Templates) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, snaps, templates)
	case FormatXLSX:
		return WriteXLSX(w, snaps, templates)
	}
	return eris.Errorf("export: unknown format %q", format)
}

// WriteCSV writes a header row followed by one row per snapshot.
func WriteCSV(w io.Writer, snaps []model.Snapshot, templates outreach.Templates) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, s := range snaps {
		if err := cw.Write(Row(s, templates)); err != nil {
			return eris.Wrapf(err, "export: write csv row for member %d", s.MemberID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook. Numeric columns are stored as
// numbers so they sort and sum in a spreadsheet.
func WriteXLSX(w io.Writer, snaps []model.Snapshot, templates outreach.Templates) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}

	for _, s := range snaps {
		row := sheet.AddRow()
		for i, v := range Row(s, templates) {
			cell := row.AddCell()
			if numericColumns[i] && v != "" {
				n, err := strconv.Atoi(v)
				if err == nil {
					cell.SetInt(n)
					continue
				}
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

var numericColumns = func() map[int]bool {
	numeric := map[string]bool{
		"member_id": true, "risk_score": true, "badge_count_total": true,
		"badge_count_window": true, "visit_count_30d": true,
	}
	idx := make(map[int]bool, len(numeric))
	for i, h := range Header {
		if numeric[h] {
			idx[i] = true
		}
	}
	return idx
}()
