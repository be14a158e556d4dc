package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roach88/devicegate/internal/config"
	"github.com/roach88/devicegate/internal/gate"
)

// Report is the operator-facing summary of one gate command. Sections are
// nil when the corresponding step did not run.
type Report struct {
	RunID        string              `json:"run_id"`
	OrgKey       string              `json:"org_key"`
	BaseURL      string              `json:"base_url"`
	DeviceID     string              `json:"device_id"`
	Registration *RegistrationReport `json:"registration,omitempty"`
	Decision     *DecisionReport     `json:"decision,omitempty"`
	Task         *TaskReport         `json:"task,omitempty"`
}

// RegistrationReport summarizes the register call.
type RegistrationReport struct {
	Status      string `json:"status"`
	PlanTier    string `json:"plan_tier,omitempty"`
	Limit       *int   `json:"limit,omitempty"`
	DevicesUsed *int   `json:"devices_used,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// DecisionReport carries the three decision fields shown to the operator.
type DecisionReport struct {
	Allowed    bool   `json:"allowed"`
	RawAllowed string `json:"allowed_raw,omitempty"`
	Code       string `json:"code"`
	RequestID  string `json:"request_id"`
	Error      string `json:"error,omitempty"`
}

// TaskReport is the downstream task result.
type TaskReport struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

const none = "<none>"

// newReport builds a Report from an outcome. out must be non-nil.
func newReport(cfg *config.Config, out *gate.Outcome) *Report {
	r := &Report{
		RunID:    out.RunID,
		OrgKey:   config.MaskOrgKey(cfg.OrgKey),
		BaseURL:  cfg.BaseURL,
		DeviceID: out.DeviceID,
	}

	if out.RegistrationRan {
		reg := out.Registration
		r.Registration = &RegistrationReport{
			Status:      reg.Status,
			PlanTier:    reg.PlanTier,
			Limit:       reg.Limit,
			DevicesUsed: reg.DevicesUsed,
			Warning:     out.RegistrationWarning,
		}
	}

	if out.ValidationRan || out.ValidationError != "" {
		r.Decision = &DecisionReport{
			Allowed:    out.Decision.Allowed,
			RawAllowed: out.Decision.RawAllowed,
			Code:       out.Decision.Code,
			RequestID:  out.Decision.RequestID,
			Error:      out.ValidationError,
		}
	}

	if out.TaskRan {
		r.Task = &TaskReport{Output: out.TaskOutput, Error: out.TaskError}
	}
	return r
}

// writeReport prints r in the formatter's format. err is the error the
// command is about to return, if any.
func writeReport(f *OutputFormatter, r *Report, err error) error {
	f.RunID = r.RunID
	if f.Format == "json" {
		if err != nil {
			return f.Error(errorCodeFor(err), err.Error(), r)
		}
		return f.Success(r)
	}
	renderText(f.Writer, r)
	return nil
}

// renderText writes the human-readable report. Each decision field appears
// exactly once.
func renderText(w io.Writer, r *Report) {
	fmt.Fprintf(w, "✔ MACHINEID_ORG_KEY loaded: %s\n", r.OrgKey)
	fmt.Fprintf(w, "Using base_url: %s\n", r.BaseURL)
	fmt.Fprintf(w, "Using device_id: %s\n", r.DeviceID)
	fmt.Fprintf(w, "Run: %s\n", r.RunID)
	fmt.Fprintln(w)

	if reg := r.Registration; reg != nil {
		fmt.Fprintln(w, "Registration summary:")
		fmt.Fprintf(w, "  status      : %s\n", orNone(reg.Status))
		if reg.PlanTier != "" {
			fmt.Fprintf(w, "  planTier    : %s\n", reg.PlanTier)
		}
		if reg.Limit != nil {
			fmt.Fprintf(w, "  limit       : %d\n", *reg.Limit)
		}
		if reg.DevicesUsed != nil {
			fmt.Fprintf(w, "  devicesUsed : %d\n", *reg.DevicesUsed)
		}
		if reg.Warning != "" {
			fmt.Fprintf(w, "  warning     : %s\n", reg.Warning)
		}
		fmt.Fprintln(w)
	}

	d := r.Decision
	if d == nil {
		return
	}

	fmt.Fprintln(w, "Validation summary:")
	fmt.Fprintf(w, "  allowed    : %s\n", allowedText(d))
	fmt.Fprintf(w, "  code       : %s\n", orNone(d.Code))
	fmt.Fprintf(w, "  request_id : %s\n", orNone(d.RequestID))
	if d.Error != "" {
		fmt.Fprintf(w, "  error      : %s\n", d.Error)
	}
	fmt.Fprintln(w)

	if !d.Allowed {
		fmt.Fprintln(w, "🚫 Execution denied (hard gate). Task not started.")
		return
	}

	t := r.Task
	if t == nil {
		fmt.Fprintln(w, "✅ Execution allowed.")
		return
	}

	fmt.Fprintln(w, "✅ Execution allowed. Running LangChain example...")
	fmt.Fprintln(w)
	if t.Error != "" {
		fmt.Fprintf(w, "✖ LangChain task failed: %s\n", t.Error)
		return
	}
	fmt.Fprintf(w, "✔ LangChain result:\n%s\n", strings.TrimRight(t.Output, "\n"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Done.")
}

// allowedText shows the decision, plus the received value when it differs
// from the decision (a string "true", null, or allowed on an error status).
func allowedText(d *DecisionReport) string {
	decided := strconv.FormatBool(d.Allowed)
	if d.RawAllowed == "" || d.RawAllowed == decided {
		return decided
	}
	return fmt.Sprintf("%s (received: %s)", decided, d.RawAllowed)
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}
