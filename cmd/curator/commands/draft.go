package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/engine"
	"github.com/curator-health/curator/pkg/policy"
)

func newDraftCommand() *cobra.Command {
	var (
		version   string
		increment string
		dot       bool
	)

	cmd := &cobra.Command{
		Use:   "draft <url|version>",
		Short: "Create a draft of an artifact and its owned components",
		Long: `Create a new draft version of an active artifact.

The draft copies the root and every component it owns (composed-of
relationships marked as owned), pins their relationships to the versions
resolved now and writes them dependencies first.`,
		Example: `  # Draft the next patch version
  curator draft "http://example.org/Library/a|1.0.0"

  # Draft an explicit version
  curator draft "http://example.org/Library/a|1.0.0" --version 2.0.0

  # Draft the next minor version
  curator draft "http://example.org/Library/a|1.0.0" --increment minor`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := parseReference(args[0])
			if err != nil {
				return err
			}
			switch policy.Increment(increment) {
			case policy.IncrementMajor, policy.IncrementMinor, policy.IncrementPatch:
			default:
				return newUsageError("unknown increment %q", increment)
			}

			ctx, rt, err := loadRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			log.Info().Str("root", root.Canonical()).Str("version", version).Msg("Creating draft")

			result, err := rt.engine.Draft(ctx, engine.DraftRequest{
				Root:      root,
				Version:   version,
				Increment: policy.Increment(increment),
				Policy:    rt.policy,
			})
			if err != nil {
				return err
			}
			return renderResult(cmd, result, dot)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "draft version (default: next version by convention)")
	cmd.Flags().StringVar(&increment, "increment", string(policy.IncrementPatch), "version component to increment: major, minor, patch")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the commit plan in DOT format")

	return cmd
}
