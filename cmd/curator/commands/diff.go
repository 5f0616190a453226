package commands

import (
	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/diff"
	"github.com/curator-health/curator/pkg/telemetry"
)

func newDiffCommand() *cobra.Command {
	var children bool

	cmd := &cobra.Command{
		Use:   "diff <url|versionA> <url|versionB>",
		Short: "Show field and relationship changes between two versions of an artifact",
		Example: `  curator diff "http://example.org/Library/a|1.0.0" "http://example.org/Library/a|1.1.0-draft"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseReference(args[0])
			if err != nil {
				return err
			}
			b, err := parseReference(args[1])
			if err != nil {
				return err
			}
			if a.URL != b.URL {
				return newUsageError("diff compares versions of one artifact, got %s and %s", a.URL, b.URL)
			}

			ctx, rt, err := loadRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			processor, err := diff.NewProcessor(diff.WithMetrics(telemetry.MetricsFromContext(ctx)))
			if err != nil {
				return err
			}
			var opts []diff.VersionsOption
			if children {
				opts = append(opts, diff.WithChildren())
			}
			changes, err := processor.DiffVersions(ctx, rt.repo, a.URL, a.Version, b.Version, opts...)
			if err != nil {
				return err
			}
			if changes == nil {
				changes = []diff.Change{}
			}
			return render(cmd, changes)
		},
	}

	cmd.Flags().BoolVar(&children, "children", false, "also diff dependencies whose pinned version changed")
	return cmd
}
