package crm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/resilience"
	sfpkg "github.com/makerspace/member-success/pkg/salesforce"
)

// Fields maps contact preferences onto Salesforce Contact fields.
type Fields struct {
	MemberID        string `yaml:"member_id" mapstructure:"member_id"`
	MemberIDNumeric bool   `yaml:"member_id_numeric" mapstructure:"member_id_numeric"`
	DoNotPhone      string `yaml:"do_not_phone" mapstructure:"do_not_phone"`
	DoNotEmail      string `yaml:"do_not_email" mapstructure:"do_not_email"`
	DoNotSMS        string `yaml:"do_not_sms" mapstructure:"do_not_sms"`
	DoNotMail       string `yaml:"do_not_mail" mapstructure:"do_not_mail"`
	PreferredMethod string `yaml:"preferred_method" mapstructure:"preferred_method"`
}

// DefaultFields returns the standard Contact field mapping.
func DefaultFields() Fields {
	return Fields{
		MemberID:        "Member_ID__c",
		DoNotPhone:      "DoNotCall",
		DoNotEmail:      "HasOptedOutOfEmail",
		DoNotSMS:        "Do_Not_SMS__c",
		DoNotMail:       "Do_Not_Mail__c",
		PreferredMethod: "Preferred_Outreach_Method__c",
	}
}

func (f Fields) withDefaults() Fields {
	d := DefaultFields()
	if f.MemberID == "" {
		f.MemberID = d.MemberID
	}
	if f.DoNotPhone == "" {
		f.DoNotPhone = d.DoNotPhone
	}
	if f.DoNotEmail == "" {
		f.DoNotEmail = d.DoNotEmail
	}
	if f.DoNotSMS == "" {
		f.DoNotSMS = d.DoNotSMS
	}
	if f.DoNotMail == "" {
		f.DoNotMail = d.DoNotMail
	}
	if f.PreferredMethod == "" {
		f.PreferredMethod = d.PreferredMethod
	}
	return f
}

func (f Fields) selected() []string {
	return []string{f.DoNotPhone, f.DoNotEmail, f.DoNotSMS, f.DoNotMail, f.PreferredMethod}
}

// Salesforce implements Client against Salesforce Contacts and EmailTemplates.
type Salesforce struct {
	client sfpkg.Client
	fields Fields
	policy *resilience.Policy
}

// NewSalesforce wraps a Salesforce client. Calls run under policy; a nil
// policy gets the resilience defaults.
func NewSalesforce(client sfpkg.Client, fields Fields, policy *resilience.Policy) *Salesforce {
	if policy == nil {
		policy = resilience.NewPolicy("salesforce", resilience.Config{})
	}
	return &Salesforce{client: client, fields: fields.withDefaults(), policy: policy}
}

func (s *Salesforce) ContactFlags(ctx context.Context, memberID int64) (model.CRMFlags, error) {
	contact, err := resilience.Call(ctx, s.policy, "contact_flags", func(ctx context.Context) (map[string]any, error) {
		return sfpkg.FindContact(ctx, s.client, sfpkg.ContactQuery{
			MatchField: s.fields.MemberID,
			Value:      strconv.FormatInt(memberID, 10),
			Numeric:    s.fields.MemberIDNumeric,
			Fields:     s.fields.selected(),
		})
	})
	if err != nil {
		return model.CRMFlags{}, eris.Wrapf(err, "crm: contact flags for member %d", memberID)
	}
	if contact == nil {
		return model.CRMFlags{}, nil
	}

	return model.CRMFlags{
		DoNotPhone:              truthy(contact[s.fields.DoNotPhone]),
		DoNotEmail:              truthy(contact[s.fields.DoNotEmail]),
		DoNotSMS:                truthy(contact[s.fields.DoNotSMS]),
		DoNotMail:               truthy(contact[s.fields.DoNotMail]),
		PreferredOutreachMethod: firstValue(contact[s.fields.PreferredMethod]),
	}, nil
}

func (s *Salesforce) MessageTemplates(ctx context.Context) ([]Template, error) {
	records, err := resilience.Call(ctx, s.policy, "message_templates", func(ctx context.Context) ([]sfpkg.EmailTemplate, error) {
		return sfpkg.ListEmailTemplates(ctx, s.client)
	})
	if err != nil {
		return nil, eris.Wrap(err, "crm: message templates")
	}

	templates := make([]Template, 0, len(records))
	for _, r := range records {
		title := r.Name
		if title == "" {
			title = r.DeveloperName
		}
		templates = append(templates, Template{ID: r.ID, Title: title})
	}
	return templates, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "0" && s != "false"
	default:
		return false
	}
}

// firstValue returns the first entry of a picklist value; multi-select
// picklists arrive as "a;b".
func firstValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		first, _, _ := strings.Cut(t, ";")
		return strings.TrimSpace(first)
	case []any:
		if len(t) == 0 {
			return ""
		}
		return firstValue(t[0])
	default:
		return fmt.Sprint(t)
	}
}
