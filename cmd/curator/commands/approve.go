package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/engine"
)

func newApproveCommand() *cobra.Command {
	var (
		date    string
		kind    string
		summary string
		author  string
		target  string
	)

	cmd := &cobra.Command{
		Use:   "approve <url|version>",
		Short: "Record an approval on a draft or active artifact",
		Example: `  curator approve "http://example.org/Library/a|1.1.0-draft" --author "QA" --summary "Reviewed"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}

			req := engine.ApproveRequest{
				Target:         ref,
				Type:           kind,
				Summary:        summary,
				Author:         author,
				ArtifactTarget: target,
			}
			if date != "" {
				d, err := time.Parse(time.RFC3339, date)
				if err != nil {
					return newUsageError("invalid approval date %q: %v", date, err)
				}
				req.Date = &d
			}

			ctx, rt, err := loadRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			result, err := rt.engine.Approve(ctx, req)
			if err != nil {
				return err
			}
			return render(cmd, result)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "approval date, RFC3339 (default: now)")
	cmd.Flags().StringVar(&kind, "type", "", "approval type (default: comment)")
	cmd.Flags().StringVar(&summary, "summary", "", "approval summary")
	cmd.Flags().StringVar(&author, "author", "", "approving author")
	cmd.Flags().StringVar(&target, "target", "", "approved artifact url|version; must match the argument")

	return cmd
}
