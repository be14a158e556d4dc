package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errRegistrationFailed marks a register command whose registration did not
// succeed.
var errRegistrationFailed = errors.New("registration did not succeed")

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return newRegisterCommand(&GateOptions{RootOptions: rootOpts})
}

// newRegisterCommand builds the command around opts, so tests can set the hooks.
func newRegisterCommand(opts *GateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device without validating it",
		Long: `Register this device with MachineID.io and print the plan summary.
Registration is create-or-confirm: running it again reports "exists".

Exits 1 when registration did not succeed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd)
		},
	}

	bindGateFlags(cmd, opts, false)
	return cmd
}

func runRegister(opts *GateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := newSession(cmd, opts, formatter, false)
	if err != nil {
		return reportSetupError(formatter, err)
	}
	ctx := commandContext(cmd)
	defer s.close(ctx)

	out, err := s.gate.Register(ctx, gateConfig(s.cfg))
	if err != nil {
		return reportSetupError(formatter, exitErrorFor(err))
	}
	s.finish(ctx, out)

	var regErr error
	if !out.Registered() {
		regErr = fmt.Errorf("%w: %s", errRegistrationFailed, out.RegistrationWarning)
	}

	if err := writeReport(formatter, newReport(s.cfg, out), regErr); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}
	if regErr != nil {
		return WrapExitError(ExitFailure, "register failed", regErr)
	}
	return nil
}
