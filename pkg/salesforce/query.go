package salesforce

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// EmailTemplate represents a Salesforce EmailTemplate record.
type EmailTemplate struct {
	ID            string `json:"Id" salesforce:"Id"`
	Name          string `json:"Name" salesforce:"Name"`
	DeveloperName string `json:"DeveloperName" salesforce:"DeveloperName"`
	Subject       string `json:"Subject" salesforce:"Subject"`
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ContactQuery describes a Contact lookup by a single match field.
type ContactQuery struct {
	MatchField string   // e.g. "Member_ID__c"
	Value      string   // matched against MatchField
	Numeric    bool     // emit Value unquoted for number fields
	Fields     []string // fields to select
}

// FindContact returns the first Contact whose MatchField equals Value, as a
// field map. Returns nil if no contact matches.
func FindContact(ctx context.Context, c Client, q ContactQuery) (map[string]any, error) {
	if !fieldNamePattern.MatchString(q.MatchField) {
		return nil, eris.Errorf("sf: invalid match field %q", q.MatchField)
	}
	fields := []string{"Id"}
	for _, f := range q.Fields {
		if !fieldNamePattern.MatchString(f) {
			return nil, eris.Errorf("sf: invalid field %q", f)
		}
		if f != "Id" {
			fields = append(fields, f)
		}
	}

	literal := "'" + escapeSoql(q.Value) + "'"
	if q.Numeric {
		if !isNumber(q.Value) {
			return nil, eris.Errorf("sf: %q is not numeric", q.Value)
		}
		literal = q.Value
	}

	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE %s = %s LIMIT 1",
		strings.Join(fields, ", "), q.MatchField, literal,
	)

	var contacts []map[string]any
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by %s %s", q.MatchField, q.Value))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return contacts[0], nil
}

// ListEmailTemplates returns the active email templates ordered by name.
func ListEmailTemplates(ctx context.Context, c Client) ([]EmailTemplate, error) {
	soql := "SELECT Id, Name, DeveloperName, Subject FROM EmailTemplate WHERE IsActive = true ORDER BY Name"

	var templates []EmailTemplate
	if err := c.Query(ctx, soql, &templates); err != nil {
		return nil, eris.Wrap(err, "sf: list email templates")
	}
	return templates, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals to
// prevent injection.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
