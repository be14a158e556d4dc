package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/devicegate/internal/config"
	"github.com/roach88/devicegate/internal/gate"
	"github.com/roach88/devicegate/internal/machineid"
	"github.com/roach88/devicegate/internal/task"
)

// GateOptions holds flags shared by the commands that talk to the licensing
// service. Zero values mean "not set on the command line".
type GateOptions struct {
	*RootOptions

	DeviceID      string
	BaseURL       string
	Timeout       time.Duration
	ValidateDelay time.Duration
	Journal       string
	Pushgateway   string
	Trace         bool
	Model         string

	// Task overrides the LangChain task (for testing).
	// If nil, the OpenAI chain is built from the config.
	Task gate.Task

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs gate.RunIDGenerator

	// Resolver overrides identity resolution (for testing).
	Resolver gate.IdentityResolver

	// Clock overrides the journal time source (for testing).
	Clock func() time.Time
}

// bindGateFlags registers the gate flags on cmd. withTask adds --model.
func bindGateFlags(cmd *cobra.Command, opts *GateOptions, withTask bool) {
	f := cmd.Flags()
	f.StringVar(&opts.DeviceID, "device-id", "", "device identifier override (env MACHINEID_DEVICE_ID)")
	f.StringVar(&opts.BaseURL, "base-url", "", "licensing service base URL (default "+machineid.DefaultBaseURL+")")
	f.DurationVar(&opts.Timeout, "timeout", machineid.DefaultTimeout, "per-call HTTP timeout")
	f.DurationVar(&opts.ValidateDelay, "validate-delay", config.DefaultValidateDelay, "pause between register and validate")
	f.StringVar(&opts.Journal, "journal", "", "SQLite run journal path (disabled when empty)")
	f.StringVar(&opts.Pushgateway, "pushgateway", "", "Prometheus Pushgateway URL (disabled when empty)")
	f.BoolVar(&opts.Trace, "trace", false, "write OpenTelemetry spans to stderr")
	if withTask {
		f.StringVar(&opts.Model, "model", task.DefaultModel, "LLM model for the gated task")
	}
}

// loadConfig merges file and environment configuration with the flags that
// were set explicitly, then validates the result. Any failure is a
// configuration error (exit 2).
func loadConfig(cmd *cobra.Command, opts *GateOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	applyFlags(cmd.Flags(), opts, cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// applyFlags overlays flags the user actually passed, so flag defaults never
// mask file or environment values.
func applyFlags(flags *pflag.FlagSet, opts *GateOptions, cfg *config.Config) {
	if flags.Changed("device-id") {
		cfg.DeviceID = opts.DeviceID
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = opts.BaseURL
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if flags.Changed("validate-delay") {
		cfg.ValidateDelay = opts.ValidateDelay
	}
	if flags.Changed("journal") {
		cfg.Journal = opts.Journal
	}
	if flags.Changed("pushgateway") {
		cfg.Pushgateway = opts.Pushgateway
	}
	if flags.Changed("trace") {
		cfg.Trace = opts.Trace
	}
	if flags.Changed("model") {
		cfg.Task.Model = opts.Model
	}
}

func gateConfig(cfg *config.Config) gate.Config {
	return gate.Config{
		OrgKey:         cfg.OrgKey,
		DeviceOverride: cfg.DeviceID,
		ValidateDelay:  cfg.ValidateDelay,
	}
}
