package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/devicegate/internal/config"
	"github.com/roach88/devicegate/internal/gate"
	"github.com/roach88/devicegate/internal/identity"
)

// NewIdentityCommand creates the identity command.
func NewIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	return newIdentityCommand(&GateOptions{RootOptions: rootOpts})
}

func newIdentityCommand(opts *GateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the device identifier this host would use",
		Long: `Print the device identifier without contacting the licensing service.

The identifier is the --device-id / MACHINEID_DEVICE_ID override when set,
otherwise a stable value derived from the host name.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentity(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DeviceID, "device-id", "", "device identifier override (env MACHINEID_DEVICE_ID)")
	return cmd
}

func runIdentity(opts *GateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// No credential is needed here, so the config is loaded but not validated.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return reportSetupError(formatter, WrapExitError(ExitCommandError, "failed to load configuration", err))
	}
	applyFlags(cmd.Flags(), opts, cfg)
	cfg.Normalize()

	var resolver gate.IdentityResolver = identity.Resolver{}
	if opts.Resolver != nil {
		resolver = opts.Resolver
	}

	deviceID, err := resolver.Resolve(cfg.DeviceID)
	if err != nil {
		return reportSetupError(formatter, WrapExitError(ExitCommandError, "cannot resolve device identity", err))
	}

	return formatter.Success(identityResult{DeviceID: deviceID})
}

// identityResult prints as the bare identifier in text mode.
type identityResult struct {
	DeviceID string `json:"device_id"`
}

func (r identityResult) String() string {
	return r.DeviceID
}
