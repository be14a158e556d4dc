package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&GateOptions{RootOptions: rootOpts})
}

// newRunCommand builds the command around opts, so tests can set the hooks.
func newRunCommand(opts *GateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register, validate, then run the LangChain task if allowed",
		Long: `Register this device with MachineID.io (create-or-confirm), validate it,
and run the LangChain example only when the service answers allowed: true.

A failed registration is reported as a warning and validation still runs.
Any refusal stops the run before the task starts.

Exit codes:
  0  allowed and the task completed
  2  configuration error (no network call was made)
  3  validation refused
  4  the task failed

Example:
  MACHINEID_ORG_KEY=org_... devicegate run
  devicegate run --device-id worker-7 --journal ./runs.db --trace`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(opts, cmd)
		},
	}

	bindGateFlags(cmd, opts, true)
	return cmd
}

func runGate(opts *GateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := newSession(cmd, opts, formatter, true)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	ctx := commandContext(cmd)
	defer s.close(ctx)

	out, runErr := s.gate.Run(ctx, gateConfig(s.cfg))
	if out == nil {
		return reportSetupError(formatter, exitErrorFor(runErr))
	}
	s.finish(ctx, out)

	if err := writeReport(formatter, newReport(s.cfg, out), runErr); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}
	if runErr != nil {
		return exitErrorFor(runErr)
	}
	return nil
}

// reportSetupError prints an error raised before a run started, on stdout
// as a JSON response or on stderr as text, and marks it reported.
func reportSetupError(f *OutputFormatter, err error) error {
	var details interface{}
	if GetExitCode(err) == ExitCommandError {
		details = configSourcesHint
	}
	_ = f.Error(errorCodeFor(err), err.Error(), details)
	return markReported(err)
}

// configSourcesHint is attached to configuration errors.
const configSourcesHint = "configuration is merged from defaults, the YAML file (--config or MACHINEID_CONFIG), MACHINEID_* variables and flags"

// markReported flags err so main does not print it a second time.
func markReported(err error) error {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = WrapExitError(ExitFailure, "run failed", err)
		err = exitErr
	}
	exitErr.Reported = true
	return err
}
