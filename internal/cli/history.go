package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/devicegate/internal/config"
	"github.com/roach88/devicegate/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Device  string
	Limit   int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		Long: `List recent gate runs recorded in the SQLite journal, newest first.

Example:
  devicegate history --journal ./runs.db
  devicegate history --journal ./runs.db --device worker-7 --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite run journal path (env MACHINEID_JOURNAL)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "only show runs for this device id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	path := opts.Journal
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return reportSetupError(formatter, WrapExitError(ExitCommandError, "failed to load configuration", err))
		}
		path = cfg.Journal
	}
	if path == "" {
		return reportSetupError(formatter, NewExitError(ExitCommandError, "no journal configured: pass --journal or set MACHINEID_JOURNAL"))
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return reportSetupError(formatter, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path)))
	}

	j, err := journal.OpenReadOnly(path)
	if err != nil {
		return reportSetupError(formatter, WrapExitError(ExitFailure, "failed to open journal", err))
	}
	defer j.Close()

	entries, err := j.Recent(commandContext(cmd), opts.Device, opts.Limit)
	if err != nil {
		return reportSetupError(formatter, WrapExitError(ExitFailure, "failed to read journal", err))
	}

	formatter.VerboseLog("read %d runs from %s", len(entries), path)
	return formatter.Success(historyResult(entries))
}

// historyResult encodes as a JSON array and prints as the text listing.
type historyResult []journal.Entry

func (h historyResult) String() string {
	var b strings.Builder
	renderHistory(&b, h)
	return strings.TrimSuffix(b.String(), "\n")
}

func renderHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "Recent runs (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %s  %s  allowed=%t code=%s request_id=%s task=%s\n",
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.RunID,
			e.DeviceID,
			e.Allowed,
			orNone(e.Code),
			orNone(e.RequestID),
			e.TaskStatus,
		)
		if e.RegistrationWarning != "" {
			fmt.Fprintf(w, "      registration warning: %s\n", e.RegistrationWarning)
		}
	}
}
