package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/engine"
	"github.com/curator-health/curator/pkg/publish"
)

// packageOutput is printed when a bundle was also published.
type packageOutput struct {
	Bundle    *engine.Bundle    `json:"bundle" yaml:"bundle"`
	Published *publish.Location `json:"published" yaml:"published"`
}

func newPackageCommand() *cobra.Command {
	var (
		doPublish     bool
		publishFormat string
		include       []string
		exclude       []string
		packageOnly   bool
		offset        int
		count         int
	)

	cmd := &cobra.Command{
		Use:   "package <url|version>",
		Short: "Bundle an artifact with its dependency closure",
		Long: `Package resolves an artifact of any status and emits a read-only bundle
of it and everything it depends on. Dependencies that cannot be bound are
listed as unresolved rather than failing the command.

With --publish the bundle is also uploaded to the object storage declared
in the topology's publish section.`,
		Example: `  # Print a bundle
  curator package "http://example.org/Library/a|1.0.0"

  # Only the root and the components it owns, ten entries at a time
  curator package "http://example.org/Library/a|1.0.0" --package-only --count 10 --offset 10

  # Upload the bundle as YAML
  curator package "http://example.org/Library/a|1.0.0" --publish --publish-format yaml`,
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

			var publisher *publish.Publisher
			if doPublish {
				if rt.topology.Publish == nil {
					return newUsageError("--publish requires a publish section in the topology")
				}
				publisher, err = publish.NewPublisher(*rt.topology.Publish, log.Logger)
				if err != nil {
					return err
				}
			}

			req := engine.PackageRequest{
				Root:        root,
				Policy:      rt.policy,
				Include:     include,
				Exclude:     exclude,
				PackageOnly: packageOnly,
				Offset:      offset,
			}
			if cmd.Flags().Changed("count") {
				req.Count = &count
			}
			bundle, err := rt.engine.Package(ctx, req)
			if err != nil {
				return err
			}
			if publisher == nil {
				return render(cmd, bundle)
			}

			loc, err := publisher.Publish(ctx, bundle, publish.Format(publishFormat))
			if err != nil {
				return fmt.Errorf("failed to publish bundle: %w", err)
			}
			return render(cmd, packageOutput{Bundle: bundle, Published: loc})
		},
	}

	cmd.Flags().BoolVar(&doPublish, "publish", false, "upload the bundle to object storage")
	cmd.Flags().StringVar(&publishFormat, "publish-format", string(publish.FormatJSON), "uploaded bundle format: json or yaml")
	cmd.Flags().StringSliceVar(&include, "include", nil, "artifact types to keep; \"artifact\" keeps the root")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "artifact types to drop")
	cmd.Flags().BoolVar(&packageOnly, "package-only", false, "keep only the root and the components it owns")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().IntVar(&count, "count", 0, "maximum entries to return")

	return cmd
}
