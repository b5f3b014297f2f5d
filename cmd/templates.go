package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/makerspace/member-success/internal/config"
	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/outreach"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List CRM message templates and the per-stage template settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(config.ModeTemplates); err != nil {
			return err
		}
		client, err := initCRM()
		if err != nil {
			return err
		}

		templates, err := client.MessageTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "templates")
		}

		formatTemplates(cmd.OutOrStdout(), templates, cfg.Templates)
		return nil
	},
}

func formatTemplates(out io.Writer, available []crm.Template, configured outreach.Templates) {
	titles := make(map[string]string, len(available))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE")
	for _, t := range available {
		titles[t.ID] = t.Title
		fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Title)
	}
	w.Flush() //nolint:errcheck

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tTEMPLATE\tTITLE")
	for _, stage := range model.Stages {
		id := configured.For(stage)
		title := "-"
		switch {
		case id == "":
			id = "-"
		case titles[id] != "":
			title = titles[id]
		default:
			title = "(not found)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", stage, id, title)
	}
	w.Flush() //nolint:errcheck
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
