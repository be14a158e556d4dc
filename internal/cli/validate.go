package cli

import (
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return newValidateCommand(&GateOptions{RootOptions: rootOpts})
}

// newValidateCommand builds the command around opts, so tests can set the hooks.
func newValidateCommand(opts *GateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Ask the licensing service whether this device may run",
		Long: `Validate this device without registering it or running any task.
Exits 0 when allowed and 3 when refused, so shell scripts can gate their
own workers:

  devicegate validate && ./worker`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	bindGateFlags(cmd, opts, false)
	return cmd
}

func runValidate(opts *GateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := newSession(cmd, opts, formatter, false)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	ctx := commandContext(cmd)
	defer s.close(ctx)

	out, checkErr := s.gate.Check(ctx, gateConfig(s.cfg))
	if out == nil {
		return reportSetupError(formatter, exitErrorFor(checkErr))
	}
	s.finish(ctx, out)

	if err := writeReport(formatter, newReport(s.cfg, out), checkErr); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}
	if checkErr != nil {
		return exitErrorFor(checkErr)
	}
	return nil
}
