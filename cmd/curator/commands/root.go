package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Settings keys shared by flags, CURATOR_* environment variables and the
// optional settings file.
const (
	keyConfig               = "config"
	keyRepository           = "repository"
	keyOutput               = "output"
	keyVerbose              = "verbose"
	keyVersionBehavior      = "version-behavior"
	keyExperimentalBehavior = "experimental-behavior"
	keyUnknownStatus        = "unknown-status"
	keyAllowMultiple        = "allow-multiple-versions"
	keyOTLPEndpoint         = "otlp-endpoint"
)

const envPrefix = "CURATOR"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var settingsFile string

	rootCmd := &cobra.Command{
		Use:   "curator",
		Short: "Curator - lifecycle management for versioned knowledge artifacts",
		Long: `Curator drafts, releases, approves and packages versioned knowledge
artifacts together with the artifacts they depend on.

Features:
  - Repository topology declared in CUE (local SQLite, REST, proxy, federated)
  - Dependency resolution with version and experimental policies
  - Atomic-per-plan commits with partial commit reporting
  - Release and bundle rules via OPA/rego
  - Embedded logic validation via Starlark`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initSettings(cmd, settingsFile); err != nil {
				return err
			}
			if viper.GetBool(keyVerbose) {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsFile, "settings", "", "settings file (yaml) for flag defaults")
	flags.StringP(keyConfig, "c", "curator.cue", "repository topology file or directory")
	flags.StringP(keyRepository, "r", "", "repository handle to operate on (default: topology default)")
	flags.StringP(keyOutput, "o", "json", "output format: json or yaml")
	flags.BoolP(keyVerbose, "v", false, "enable verbose output")
	flags.String(keyVersionBehavior, "", "override version behavior: default, require-matching, force-update")
	flags.String(keyExperimentalBehavior, "", "override experimental behavior: error, warn, ignore")
	flags.String(keyUnknownStatus, "", "override unknown status handling: reject, draft")
	flags.Bool(keyAllowMultiple, false, "allow several versions of one artifact in a graph")
	flags.String(keyOTLPEndpoint, "", "export traces to this OTLP gRPC endpoint")

	rootCmd.AddCommand(newDraftCommand())
	rootCmd.AddCommand(newReleaseCommand())
	rootCmd.AddCommand(newApproveCommand())
	rootCmd.AddCommand(newPackageCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

// initSettings layers .env, the settings file, CURATOR_* variables and flags
// into viper. Flags set on the command line win.
func initSettings(cmd *cobra.Command, settingsFile string) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read settings %s: %w", settingsFile, err)
			}
		}
	}

	switch format := viper.GetString(keyOutput); format {
	case "json", "yaml":
	default:
		return newUsageError("unsupported output format %q", format)
	}
	return nil
}
