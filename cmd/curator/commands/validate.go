package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/curator-health/curator/pkg/config"
	"github.com/curator-health/curator/pkg/logic"
	"github.com/curator-health/curator/pkg/policy"
)

// validateReport is the printable result of validate.
type validateReport struct {
	Valid        bool                     `json:"valid" yaml:"valid"`
	SourceFiles  []string                 `json:"source_files" yaml:"source_files"`
	Repositories []string                 `json:"repositories,omitempty" yaml:"repositories,omitempty"`
	Default      string                   `json:"default,omitempty" yaml:"default,omitempty"`
	Rules        []string                 `json:"rules,omitempty" yaml:"rules,omitempty"`
	Errors       []config.ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate the repository topology configuration",
		Long: `Validate topology CUE files against the built-in schema.

This command checks:
  - CUE syntax validity
  - Schema conformance
  - Repository references (proxy inner, federation members, default)
  - Rule files compile (OPA/rego)
  - The version convention script loads`,
		Example: `  # Validate the configured topology
  curator validate

  # Validate specific files
  curator validate ./curator.cue ./overrides.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				sources = []string{viper.GetString(keyConfig)}
			}
			ctx := cmd.Context()

			log.Info().Strs("sources", sources).Msg("Validating configuration")

			parsed, err := config.NewCUEParser().Parse(ctx, sources)
			if err != nil {
				return err
			}

			report := validateReport{
				Valid:       parsed.Valid(),
				SourceFiles: parsed.SourceFiles,
				Errors:      parsed.Errors,
			}
			if report.Valid {
				t := parsed.Topology
				for _, r := range t.Repositories {
					report.Repositories = append(report.Repositories, r.Name)
				}
				report.Default = t.Default

				rules, err := policy.NewEngine(log.Logger)
				if err != nil {
					return err
				}
				defer rules.Close()
				if len(t.Rules.Paths) > 0 {
					if err := rules.LoadRules(ctx, t.Rules.Paths); err != nil {
						return fmt.Errorf("failed to load rules: %w", err)
					}
				}
				for _, r := range rules.ListRules() {
					report.Rules = append(report.Rules, r.Name)
				}

				if script := t.Logic.VersionConvention; script != "" {
					if _, err := logic.LoadScriptConvention(logic.NewEvaluator(log.Logger), script); err != nil {
						return err
					}
				}
			}

			if err := render(cmd, report); err != nil {
				return err
			}
			if !report.Valid {
				return &config.Errors{List: parsed.Errors}
			}
			return nil
		},
	}

	return cmd
}
