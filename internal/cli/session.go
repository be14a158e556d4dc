package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/devicegate/internal/config"
	"github.com/roach88/devicegate/internal/gate"
	"github.com/roach88/devicegate/internal/journal"
	"github.com/roach88/devicegate/internal/machineid"
	"github.com/roach88/devicegate/internal/task"
	"github.com/roach88/devicegate/internal/telemetry"
)

// finishTimeout bounds journal writes and metric pushes after a run, which
// still happen when the run context was cancelled.
const finishTimeout = 5 * time.Second

// session is everything one gate command needs: config, logger, the gate
// itself and the optional journal, metrics and tracing.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	formatter *OutputFormatter
	gate    *gate.Gate
	journal *journal.Journal
	metrics *telemetry.Metrics

	shutdownTracing telemetry.ShutdownFunc
}

// newSession loads configuration and wires the gate. withTask selects
// whether the LangChain task is attached.
func newSession(cmd *cobra.Command, opts *GateOptions, formatter *OutputFormatter, withTask bool) (*session, error) {
	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		"org_key", config.MaskOrgKey(cfg.OrgKey),
		"base_url", cfg.BaseURL,
		"timeout", cfg.Timeout,
		"validate_delay", cfg.ValidateDelay,
	)

	shutdown, err := telemetry.SetupTracing(cfg.Trace, cmd.ErrOrStderr(), Version)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	s := &session{
		cfg:             cfg,
		logger:          logger,
		formatter:       formatter,
		metrics:         telemetry.NewMetrics(),
		shutdownTracing: shutdown,
	}

	if cfg.Journal != "" {
		var jopts []journal.Option
		if opts.Clock != nil {
			jopts = append(jopts, journal.WithClock(opts.Clock))
		}
		j, err := journal.Open(cfg.Journal, jopts...)
		if err != nil {
			// The journal is an audit aid; it never blocks a run.
			logger.Warn("journal disabled", "path", cfg.Journal, "error", err)
		} else {
			s.journal = j
			formatter.VerboseLog("Journaling runs to %s", cfg.Journal)
		}
	}

	client := machineid.NewClient(machineid.Options{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})

	gateOpts := []gate.Option{gate.WithLogger(logger)}
	if opts.RunIDs != nil {
		gateOpts = append(gateOpts, gate.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Resolver != nil {
		gateOpts = append(gateOpts, gate.WithResolver(opts.Resolver))
	}

	var gated gate.Task
	if withTask {
		gated = opts.Task
		if gated == nil {
			gated = task.NewChain(task.OpenAIModel(task.OpenAIConfig{
				Model:   cfg.Task.Model,
				BaseURL: cfg.Task.BaseURL,
			}, task.NewLogHandler(logger)))
		}
	}

	s.gate = gate.New(client, gated, gateOpts...)
	return s, nil
}

// finish journals and pushes metrics for out. Failures are logged only.
func (s *session) finish(ctx context.Context, out *gate.Outcome) {
	if out == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	s.metrics.Observe(out)

	if s.journal != nil {
		if err := s.journal.Record(ctx, journal.EntryFromOutcome(out)); err != nil {
			s.logger.Warn("failed to journal run", "run_id", out.RunID, "error", err)
		} else {
			s.formatter.VerboseLog("Recorded run %s in %s", out.RunID, s.cfg.Journal)
		}
	}

	if s.cfg.Pushgateway != "" {
		if err := s.metrics.Push(ctx, s.cfg.Pushgateway, out.DeviceID); err != nil {
			s.logger.Warn("failed to push metrics", "run_id", out.RunID, "error", err)
		} else {
			s.formatter.VerboseLog("Pushed metrics to %s", s.cfg.Pushgateway)
		}
	}
}

// close releases the journal and flushes spans.
func (s *session) close(ctx context.Context) {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("error closing journal", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := s.shutdownTracing(ctx); err != nil {
		s.logger.Error("error flushing traces", "error", err)
	}
}

// commandContext returns the command's context, or Background when the
// command is executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
