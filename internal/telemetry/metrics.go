package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/roach88/devicegate/internal/gate"
)

// JobName is the Pushgateway job all runs are grouped under.
const JobName = "devicegate"

// Metrics counts gate outcomes.
type Metrics struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	taskRuns      *prometheus.CounterVec
}

// NewMetrics creates the counters in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegate_registrations_total",
			Help: "Device registrations by result (ok, exists, failed).",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegate_decisions_total",
			Help: "Validation decisions by allowed flag and service code.",
		}, []string{"allowed", "code"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegate_task_runs_total",
			Help: "Downstream task executions by result (ok, failed).",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.registrations, m.decisions, m.taskRuns)
	return m
}

// Observe counts the steps that ran in out.
func (m *Metrics) Observe(out *gate.Outcome) {
	if out == nil {
		return
	}

	if out.RegistrationRan {
		result := "failed"
		if out.Registered() {
			result = out.Registration.Status
		}
		m.registrations.WithLabelValues(result).Inc()
	}

	if out.ValidationRan {
		code := out.Decision.Code
		if code == "" {
			code = "none"
		}
		m.decisions.WithLabelValues(strconv.FormatBool(out.Decision.Allowed), code).Inc()
	}

	if out.TaskRan {
		result := "ok"
		if out.TaskError != "" {
			result = "failed"
		}
		m.taskRuns.WithLabelValues(result).Inc()
	}
}

// Push replaces this device's metric group on the Pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url, deviceID string) error {
	err := push.New(url, JobName).
		Gatherer(m.registry).
		Grouping("device_id", deviceID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
