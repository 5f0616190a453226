package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/engine"
)

func newReleaseCommand() *cobra.Command {
	var (
		version string
		label   string
		dot     bool
	)

	cmd := &cobra.Command{
		Use:   "release <url|version>",
		Short: "Release a draft artifact and its dependencies",
		Long: `Release a draft artifact.

Release requires a fully resolved dependency graph. Every draft in the
closure becomes active, owned components take the root's version, and the
plan is checked against release rules and embedded logic before anything
is written.`,
		Example: `  # Release a draft under its own version
  curator release "http://example.org/Library/a|1.1.0-draft"

  # Release with a label, overriding the version
  curator release "http://example.org/Library/a|1.1.0-draft" --version 1.2.0 --version-behavior force-update --label R2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := parseReference(args[0])
			if err != nil {
				return err
			}

			ctx, rt, err := loadRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			log.Info().Str("root", root.Canonical()).Str("label", label).Msg("Releasing")

			result, err := rt.engine.Release(ctx, engine.ReleaseRequest{
				Root:         root,
				Version:      version,
				ReleaseLabel: label,
				Policy:       rt.policy,
			})
			if err != nil {
				return err
			}
			return renderResult(cmd, result, dot)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "release version")
	cmd.Flags().StringVar(&label, "label", "", "release label recorded on the root")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the commit plan in DOT format")

	return cmd
}
