// Package crm reads member contact preferences and outreach templates from
// the CRM.
package crm

import (
	"context"

	"github.com/makerspace/member-success/internal/model"
)

// Template is an active CRM message template.
type Template struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// Client is the CRM collaborator. ContactFlags returns zero flags, not an
// error, when the member has no CRM contact.
type Client interface {
	ContactFlags(ctx context.Context, memberID int64) (model.CRMFlags, error)
	MessageTemplates(ctx context.Context) ([]Template, error)
}

// Noop is used when no CRM is configured.
type Noop struct{}

func (Noop) ContactFlags(context.Context, int64) (model.CRMFlags, error) {
	return model.CRMFlags{}, nil
}

func (Noop) MessageTemplates(context.Context) ([]Template, error) {
	return nil, nil
}
