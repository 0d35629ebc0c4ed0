package commands

import (
	"github.com/rdmontgomery/exa/internal/server"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build history API",
		Long: `Run the HTTP API over the build history store.

The API serves project history, build detail, and job listings, and
accepts cancellation requests. It is the endpoint the rolling-builds
check polls and 'exa cancel' talks to.

The server runs until interrupted and shuts down gracefully.`,
		Example: `  # Serve on the configured address
  exa serve

  # Serve on a specific address
  exa serve --addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := cmdCtx.Cfg.GetServeConfig().Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	srv := server.NewServer(server.Config{
		Store:  cmdCtx.Engine.Store(),
		Addr:   addr,
		Logger: cmdCtx.Logger,
	})
	return srv.Serve(cmd.Context())
}
