package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/devicegate/internal/gate"
)

// TaskStatus records what happened to the downstream task.
type TaskStatus string

const (
	TaskSkipped TaskStatus = "skipped"
	TaskOK      TaskStatus = "ok"
	TaskFailed  TaskStatus = "failed"
)

// Entry is one journaled run.
type Entry struct {
	RunID               string     `json:"run_id"`
	DeviceID            string     `json:"device_id"`
	RegistrationStatus  string     `json:"registration_status,omitempty"`
	RegistrationWarning string     `json:"registration_warning,omitempty"`
	Allowed             bool       `json:"allowed"`
	AllowedRaw          string     `json:"allowed_raw,omitempty"`
	Code                string     `json:"code,omitempty"`
	RequestID           string     `json:"request_id,omitempty"`
	ValidationError     string     `json:"validation_error,omitempty"`
	TaskStatus          TaskStatus `json:"task_status"`
	RecordedAt          time.Time  `json:"recorded_at"`
}

// EntryFromOutcome converts a gate outcome into a journal entry.
// RecordedAt is left zero for Record to fill in.
func EntryFromOutcome(out *gate.Outcome) Entry {
	status := TaskSkipped
	switch {
	case out.TaskRan && out.TaskError != "":
		status = TaskFailed
	case out.TaskRan:
		status = TaskOK
	}

	return Entry{
		RunID:               out.RunID,
		DeviceID:            out.DeviceID,
		RegistrationStatus:  out.Registration.Status,
		RegistrationWarning: out.RegistrationWarning,
		Allowed:             out.Decision.Allowed,
		AllowedRaw:          out.Decision.RawAllowed,
		Code:                out.Decision.Code,
		RequestID:           out.Decision.RequestID,
		ValidationError:     out.ValidationError,
		TaskStatus:          status,
	}
}

// Record appends e. A second Record with the same run id is ignored.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.RunID == "" {
		return fmt.Errorf("record run: empty run id")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = j.now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, device_id, registration_status, registration_warning, allowed, allowed_raw,
		 code, request_id, validation_error, task_status, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.RunID,
		e.DeviceID,
		e.RegistrationStatus,
		e.RegistrationWarning,
		e.Allowed,
		e.AllowedRaw,
		e.Code,
		e.RequestID,
		e.ValidationError,
		string(e.TaskStatus),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty deviceID
// matches every device.
//
// Returns an empty slice (not nil) if there are no entries.
func (j *Journal) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, device_id, registration_status, registration_warning, allowed, allowed_raw,
		       code, request_id, validation_error, task_status, recorded_at
		FROM runs
		WHERE ? = '' OR device_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, deviceID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e          Entry
		taskStatus string
		recordedAt string
	)
	err := rows.Scan(
		&e.RunID,
		&e.DeviceID,
		&e.RegistrationStatus,
		&e.RegistrationWarning,
		&e.Allowed,
		&e.AllowedRaw,
		&e.Code,
		&e.RequestID,
		&e.ValidationError,
		&taskStatus,
		&recordedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan run: %w", err)
	}

	e.TaskStatus = TaskStatus(taskStatus)
	e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
	}
	return e, nil
}
