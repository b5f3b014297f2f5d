package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/outreach"
)

// settingsView is the administrator-facing part of the configuration.
type settingsView struct {
	Thresholds model.Thresholds   `yaml:"thresholds"`
	Templates  outreach.Templates `yaml:"templates"`
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective scoring thresholds and stage templates as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Thresholds.Validate(); err != nil {
			return err
		}
		return writeSettings(cmd.OutOrStdout(), cfg.Thresholds.WithDefaults(), cfg.Templates)
	},
}

func writeSettings(out io.Writer, th model.Thresholds, templates outreach.Templates) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settingsView{Thresholds: th, Templates: templates}); err != nil {
		return eris.Wrap(err, "settings: encode")
	}
	return eris.Wrap(enc.Close(), "settings: flush")
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}
