package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/bookflowhq/bookflow/libs/otel"
)

const (
	TypeReminder     = "appointment.reminder"
	TypeConfirmation = "appointment.confirmation"
)

// Job is one scheduled notification task. The idempotency key is derived from
// the appointment id, so cancel and reschedule can address the exact job a
// booking created.
type Job struct {
	ID             int64
	IdempotencyKey string
	AppointmentID  string
	WorkspaceID    string
	JobType        string
	RunAt          time.Time
	Payload        map[string]any
	Traceparent    string
	Tracestate     string
	Attempts       int
	MaxAttempts    int
	NextRunAt      time.Time
}

// ReminderKey derives the deterministic job key for a reminder at the given
// offset before the appointment start.
func ReminderKey(appointmentID string, offset time.Duration) string {
	return fmt.Sprintf("apt_reminder_%s_%dm", appointmentID, int(offset.Minutes()))
}

// ReminderKeyPrefix matches every reminder job of one appointment.
func ReminderKeyPrefix(appointmentID string) string {
	return fmt.Sprintf("apt_reminder_%s_", appointmentID)
}

func ConfirmationKey(appointmentID string) string {
	return fmt.Sprintf("apt_confirm_%s", appointmentID)
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Schedule upserts a job by idempotency key. Re-scheduling an existing key
// (reschedule flow) moves its run time and revives it as pending.
func (r *Repository) Schedule(ctx context.Context, tx pgx.Tx, job Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO reminder_jobs
			(idempotency_key, appointment_id, workspace_id, job_type, run_at, payload, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $5, $7, $8)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET run_at = EXCLUDED.run_at,
			next_run_at = EXCLUDED.run_at,
			payload = EXCLUDED.payload,
			status = 'pending',
			attempts = 0,
			last_error = NULL,
			updated_at = now()
	`, job.IdempotencyKey, job.AppointmentID, job.WorkspaceID, job.JobType, job.RunAt, payload, traceparent, tracestate)
	return err
}

// CancelByKeyPrefix cancels all pending jobs whose key starts with prefix.
// Already-processed jobs are left untouched.
func (r *Repository) CancelByKeyPrefix(ctx context.Context, tx pgx.Tx, prefix string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE idempotency_key LIKE $1 || '%' AND status = 'pending'
	`, prefix)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, appointment_id::text, workspace_id::text, job_type, run_at,
			payload, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.AppointmentID, &j.WorkspaceID, &j.JobType, &j.RunAt,
			&raw, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &j.Payload); err != nil {
				return nil, err
			}
		} else {
			j.Payload = map[string]any{}
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
