package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(dataDir func() string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, dataDir(), func(a *app) error {
				ctx := cmd.Context()
				arc, err := a.openArchive(ctx)
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				srv := &http.Server{
					Addr: addr,
					Handler: api.NewRouter(api.Deps{
						Ledger:        a.ledger,
						Journal:       a.journal,
						Uploads:       a.uploads,
						Years:         a.years,
						Reports:       a.reports,
						Archive:       arc,
						Audit:         a.audit,
						ArchiveFormat: a.cfg.Archive.Format,
						Auth:          api.HeaderAuthenticator{},
						Log:           a.log,
					}),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					a.log.Info().Str("addr", addr).Msg("serving operator API")
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return fmt.Errorf("serve: %w", err)
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.log.Info().Msg("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")

	return cmd
}
