package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/curator-health/curator/pkg/repository"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a repository over HTTP",
		Long: `Serve exposes the selected repository handle over the HTTP protocol the
rest repository kind speaks, so other curator instances can read from and
write to it. Prometheus metrics are served under /metrics.`,
		Example: `  # Serve the local repository
  curator serve --repository local --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := loadRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			mux := http.NewServeMux()
			mux.Handle("/metrics", rt.telemetry.Metrics.Handler())
			mux.Handle("/", repository.NewServer(rt.repo, log.Logger))

			server := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("listen", listen).Str("repository", rt.repo.Name()).Msg("Serving repository")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				log.Info().Msg("Shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")

	return cmd
}
