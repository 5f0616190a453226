package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/engine"
)

// resolveOutput is the printable form of a manifest.
type resolveOutput struct {
	Root        string              `json:"root" yaml:"root"`
	Order       []string            `json:"order" yaml:"order"`
	Edges       []engine.Edge       `json:"edges,omitempty" yaml:"edges,omitempty"`
	Unresolved  []engine.Unresolved `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Warnings    []engine.Warning    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Fingerprint string              `json:"fingerprint" yaml:"fingerprint"`
}

func newResolveCommand() *cobra.Command {
	var (
		strict bool
		dot    bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <url|version>",
		Short: "Resolve an artifact's dependency graph without writing",
		Example: `  # Show the resolved closure
  curator resolve "http://example.org/Library/a|1.0.0"

  # Render the graph for graphviz
  curator resolve "http://example.org/Library/a|1.0.0" --dot | dot -Tsvg > a.svg`,
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

			m, err := rt.engine.Resolver().Resolve(ctx, root, engine.ResolveOptions{
				Policy: rt.policy,
				Strict: strict,
			})
			if err != nil {
				return err
			}

			if dot {
				_, err := fmt.Fprint(cmd.OutOrStdout(), m.ToDOT())
				return err
			}
			return render(cmd, resolveOutput{
				Root:        m.Root.Canonical(),
				Order:       m.Order,
				Edges:       m.Edges,
				Unresolved:  m.Unresolved,
				Warnings:    m.Warnings,
				Fingerprint: m.Fingerprint(),
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first unresolved dependency")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the graph in DOT format")

	return cmd
}
