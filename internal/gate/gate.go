package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/devicegate/internal/identity"
	"github.com/roach88/devicegate/internal/machineid"
)

// TracerName identifies spans emitted by the gate.
const TracerName = "github.com/roach88/devicegate/internal/gate"

// Licenser is the licensing service as seen by the gate.
// *machineid.Client implements it.
type Licenser interface {
	Register(ctx context.Context, orgKey, deviceID string) (machineid.Registration, error)
	Validate(ctx context.Context, orgKey, deviceID string) (machineid.Decision, error)
}

// Task is the work guarded by the gate.
type Task interface {
	Run(ctx context.Context) (string, error)
}

// IdentityResolver turns an optional override into a device identifier.
type IdentityResolver interface {
	Resolve(override string) (string, error)
}

// Config is everything a run needs from the caller. It is built once at
// process start.
type Config struct {
	OrgKey         string
	DeviceOverride string

	// ValidateDelay is the pause between register and validate.
	ValidateDelay time.Duration
}

// Outcome is what happened during one run. Fields for steps that did not
// execute keep their zero values.
type Outcome struct {
	RunID    string
	DeviceID string

	RegistrationRan bool
	Registration    machineid.Registration
	// RegistrationWarning is empty when registration succeeded.
	RegistrationWarning string

	ValidationRan bool
	Decision      machineid.Decision
	// ValidationError explains a refusal that did not come from the service.
	ValidationError string

	TaskRan    bool
	TaskOutput string
	TaskError  string
}

// Registered reports whether the register step ran and succeeded.
func (o *Outcome) Registered() bool {
	return o.RegistrationRan && o.Registration.OK() && o.RegistrationWarning == ""
}

// Gate runs the register → validate → task sequence.
type Gate struct {
	licenser Licenser
	task     Task
	resolver IdentityResolver
	runIDs   RunIDGenerator
	logger   *slog.Logger
	tracer   trace.Tracer
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithResolver overrides the identity resolver (default identity.Resolver{}).
func WithResolver(r IdentityResolver) Option {
	return func(g *Gate) { g.resolver = r }
}

// WithRunIDGenerator overrides run id generation (default UUIDv7Generator).
func WithRunIDGenerator(gen RunIDGenerator) Option {
	return func(g *Gate) { g.runIDs = gen }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithSleep replaces the delay between register and validate.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gate) { g.sleep = sleep }
}

// New creates a Gate. task may be nil for gates that only register or check.
func New(licenser Licenser, task Task, opts ...Option) *Gate {
	g := &Gate{
		licenser: licenser,
		task:     task,
		resolver: identity.Resolver{},
		runIDs:   UUIDv7Generator{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(TracerName),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes the full sequence. The returned Outcome is non-nil whenever
// the run got past configuration, including refusals and task failures.
func (g *Gate) Run(ctx context.Context, cfg Config) (*Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "devicegate.run")
	defer span.End()

	out, err := g.start(cfg)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("run.id", out.RunID), attribute.String("device.id", out.DeviceID))

	g.register(ctx, cfg, out)

	if err := g.sleep(ctx, cfg.ValidateDelay); err != nil {
		out.ValidationError = fmt.Sprintf("validation skipped: %v", err)
		refusal := g.refusal(out, err)
		failSpan(span, refusal)
		return out, refusal
	}

	if err := g.validate(ctx, cfg, out); err != nil {
		failSpan(span, err)
		return out, err
	}

	if err := g.runTask(ctx, out); err != nil {
		failSpan(span, err)
		return out, err
	}

	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Register resolves the identity and registers it, without validating.
// Registration problems are reported on the Outcome, not as an error.
func (g *Gate) Register(ctx context.Context, cfg Config) (*Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "devicegate.register")
	defer span.End()

	out, err := g.start(cfg)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	g.register(ctx, cfg, out)
	return out, nil
}

// Check resolves the identity and validates it, without registering or
// running the task.
func (g *Gate) Check(ctx context.Context, cfg Config) (*Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "devicegate.check")
	defer span.End()

	out, err := g.start(cfg)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	if err := g.validate(ctx, cfg, out); err != nil {
		failSpan(span, err)
		return out, err
	}
	return out, nil
}

// start checks the credential and resolves the device identity.
func (g *Gate) start(cfg Config) (*Outcome, error) {
	if strings.TrimSpace(cfg.OrgKey) == "" {
		return nil, NewConfigurationError("organization key is required", nil)
	}

	deviceID, err := g.resolver.Resolve(cfg.DeviceOverride)
	if err != nil {
		return nil, NewConfigurationError("cannot resolve device identity", err)
	}
	if deviceID == "" {
		return nil, NewConfigurationError("cannot resolve device identity", identity.ErrUnresolvable)
	}

	return &Outcome{RunID: g.runIDs.Generate(), DeviceID: deviceID}, nil
}

func (g *Gate) register(ctx context.Context, cfg Config, out *Outcome) {
	ctx, span := g.tracer.Start(ctx, "machineid.register")
	defer span.End()

	g.logger.Info("registering device", "run_id", out.RunID, "device_id", out.DeviceID)

	reg, err := g.licenser.Register(ctx, cfg.OrgKey, out.DeviceID)
	out.RegistrationRan = true
	out.Registration = reg

	switch {
	case err != nil:
		out.RegistrationWarning = err.Error()
	case !reg.OK():
		out.RegistrationWarning = fmt.Sprintf("register returned status %q", reg.Status)
		if reg.Error != "" {
			out.RegistrationWarning += ": " + reg.Error
		}
	}

	span.SetAttributes(attribute.String("registration.status", reg.Status))
	if out.RegistrationWarning != "" {
		span.SetStatus(codes.Error, out.RegistrationWarning)
		g.logger.Warn("registration failed; continuing to validation",
			"run_id", out.RunID,
			"device_id", out.DeviceID,
			"warning", out.RegistrationWarning,
		)
		return
	}
	g.logger.Info("device registered", "run_id", out.RunID, "status", reg.Status)
}

// validate fills out.Decision and returns a refusal unless the service
// answered allowed == true.
func (g *Gate) validate(ctx context.Context, cfg Config, out *Outcome) error {
	ctx, span := g.tracer.Start(ctx, "machineid.validate")
	defer span.End()

	g.logger.Info("validating device", "run_id", out.RunID, "device_id", out.DeviceID)

	start := time.Now()
	decision, err := g.licenser.Validate(ctx, cfg.OrgKey, out.DeviceID)
	out.ValidationRan = true
	out.Decision = decision
	if err != nil {
		out.Decision.Allowed = false
		out.ValidationError = err.Error()
	}
	g.logger.Debug("validation call finished", "run_id", out.RunID, "duration", time.Since(start))

	if !out.Decision.Allowed {
		refusal := g.refusal(out, err)
		span.SetAttributes(attribute.String("gate.outcome", "refused"))
		failSpan(span, refusal)
		g.logger.Warn("execution denied", "run_id", out.RunID, "device_id", out.DeviceID)
		return refusal
	}

	span.SetAttributes(attribute.String("gate.outcome", "allowed"))
	return nil
}

func (g *Gate) runTask(ctx context.Context, out *Outcome) error {
	if g.task == nil {
		return nil
	}

	ctx, span := g.tracer.Start(ctx, "task.run")
	defer span.End()

	g.logger.Info("execution allowed; running task", "run_id", out.RunID)

	out.TaskRan = true
	output, err := g.task.Run(ctx)
	if err != nil {
		out.TaskError = err.Error()
		failure := &Error{
			Kind:     ErrKindDownstreamFailure,
			Message:  "downstream task failed",
			RunID:    out.RunID,
			DeviceID: out.DeviceID,
			Err:      err,
		}
		failSpan(span, failure)
		return failure
	}

	out.TaskOutput = output
	g.logger.Info("task completed", "run_id", out.RunID, "output_bytes", len(output))
	return nil
}

func (g *Gate) refusal(out *Outcome, cause error) *Error {
	return &Error{
		Kind:     ErrKindValidationRefused,
		Message:  "execution denied",
		RunID:    out.RunID,
		DeviceID: out.DeviceID,
		Err:      cause,
	}
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
