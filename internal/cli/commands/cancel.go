package commands

import (
	"fmt"
	"strconv"

	"github.com/rdmontgomery/exa/internal/history"
	"github.com/spf13/cobra"
)

// NewCancelCommand creates the cancel command.
func NewCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <build-number>",
		Short: "Cancel a queued or running build",
		Long: `Ask the history API to cancel a build.

Queued builds are marked cancelled immediately; running builds stop
after their in-flight step. Finished builds cannot be cancelled.

Requires history_url to point at a running 'exa serve'.`,
		Example: `  # Cancel build 17 of the current project
  exa cancel 17

  # Cancel against an explicit API endpoint
  exa cancel 17 --history-url http://ci.internal:8642`,
		Args: cobra.ExactArgs(1),
		RunE: runCancel,
	}
	return cmd
}

func runCancel(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	number, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid build number %q", args[0])
	}

	if cfg.HistoryURL == "" {
		return fmt.Errorf("no history API configured: set history_url in exa.yaml or pass --history-url")
	}

	client := history.NewClient(cfg.HistoryURL, history.WithLogger(cmdCtx.Logger))
	if err := client.Cancel(cmd.Context(), cfg.Account, cfg.Project, number); err != nil {
		return fmt.Errorf("failed to cancel build #%d: %w", number, err)
	}

	r.Success(fmt.Sprintf("Requested cancellation of build #%d", number))
	return nil
}
