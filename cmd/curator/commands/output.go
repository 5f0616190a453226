package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/engine"
)

// render writes v to the command's stdout in the selected output format.
func render(cmd *cobra.Command, v interface{}) error {
	return encode(cmd.OutOrStdout(), viper.GetString(keyOutput), v)
}

// renderResult prints result, or with dot set the commit graph of its plan.
func renderResult(cmd *cobra.Command, result *engine.Result, dot bool) error {
	if !dot || result.Plan == nil {
		return render(cmd, result)
	}
	graph, err := result.Plan.ToDOT()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), graph)
	return err
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return nil
	}
}

// parseReference reads a "url|version" argument.
func parseReference(arg string) (artifact.Reference, error) {
	ref := artifact.ParseCanonical(arg)
	if ref.URL == "" {
		return artifact.Reference{}, newUsageError("invalid artifact reference %q, expected url|version", arg)
	}
	return ref, nil
}
