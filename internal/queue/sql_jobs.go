package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"waveq/internal/services"
)

const jobColumns = "id, operation, status, input_ref, config_json, output_json, error_kind, error_message, callback_url, workflow_id, created_at, started_at, completed_at, revision"

// timeLayout sorts lexicographically, which keeps ORDER BY created_at portable.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, raw.String)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, raw.String)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", raw.String, err)
		}
	}
	return &t, nil
}

func encodeMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeMap(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, int64, error) {
	var (
		id, operation, status, inputRef string
		configRaw, outputRaw            sql.NullString
		errorKind, errorMessage         sql.NullString
		callbackURL, workflowID         sql.NullString
		createdRaw                      string
		startedRaw, completedRaw        sql.NullString
		revision                        int64
	)
	if err := scanner.Scan(
		&id, &operation, &status, &inputRef,
		&configRaw, &outputRaw,
		&errorKind, &errorMessage,
		&callbackURL, &workflowID,
		&createdRaw, &startedRaw, &completedRaw,
		&revision,
	); err != nil {
		return nil, 0, err
	}

	job := &Job{
		ID:          id,
		Operation:   Operation(operation),
		Status:      Status(status),
		InputRef:    inputRef,
		CallbackURL: callbackURL.String,
		WorkflowID:  workflowID.String,
	}
	var err error
	if job.Config, err = decodeMap(configRaw); err != nil {
		return nil, 0, fmt.Errorf("decode config for %s: %w", id, err)
	}
	if job.Output, err = decodeMap(outputRaw); err != nil {
		return nil, 0, fmt.Errorf("decode output for %s: %w", id, err)
	}
	if errorKind.Valid || errorMessage.Valid {
		job.Error = &JobError{Kind: errorKind.String, Message: errorMessage.String}
	}
	created, err := parseTime(sql.NullString{String: createdRaw, Valid: true})
	if err != nil {
		return nil, 0, err
	}
	if created != nil {
		job.CreatedAt = *created
	}
	if job.StartedAt, err = parseTime(startedRaw); err != nil {
		return nil, 0, err
	}
	if job.CompletedAt, err = parseTime(completedRaw); err != nil {
		return nil, 0, err
	}
	return job, revision, nil
}

type jobRow struct {
	config, output any
	errKind        any
	errMessage     any
}

func rowValues(job *Job) (jobRow, error) {
	var row jobRow
	var err error
	if row.config, err = encodeMap(job.Config); err != nil {
		return row, fmt.Errorf("encode config: %w", err)
	}
	if row.output, err = encodeMap(job.Output); err != nil {
		return row, fmt.Errorf("encode output: %w", err)
	}
	if job.Error != nil {
		row.errKind = job.Error.Kind
		row.errMessage = job.Error.Message
	}
	return row, nil
}

func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return services.Wrap(services.ErrValidation, "queue", "create", "job id is required", nil)
	}
	row, err := rowValues(job)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		job.ID, string(job.Operation), string(job.Status), job.InputRef,
		row.config, row.output, row.errKind, row.errMessage,
		nullString(job.CallbackURL), nullString(job.WorkflowID),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicate, "queue", "create", fmt.Sprintf("job %s already exists", job.ID), nil)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLStore) getWithRevision(ctx context.Context, id string) (*Job, int64, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, revision, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, notFound(id)
		}
		return nil, 0, fmt.Errorf("get job: %w", err)
	}
	return job, revision, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	job, _, err := s.getWithRevision(ctx, id)
	return job, err
}

func (s *SQLStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	for attempt := 0; attempt < updateConflictAttempts; attempt++ {
		current, revision, err := s.getWithRevision(ctx, id)
		if err != nil {
			return nil, err
		}
		working := current.Clone()
		if err := fn(working); err != nil {
			return nil, err
		}
		if err := checkMutation(current, working); err != nil {
			return nil, err
		}
		row, err := rowValues(working)
		if err != nil {
			return nil, err
		}
		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, input_ref = ?, config_json = ?, output_json = ?, error_kind = ?, error_message = ?,
             callback_url = ?, workflow_id = ?, started_at = ?, completed_at = ?, revision = revision + 1
             WHERE id = ? AND revision = ?`,
			string(working.Status), working.InputRef, row.config, row.output, row.errKind, row.errMessage,
			nullString(working.CallbackURL), nullString(working.WorkflowID),
			formatTimePtr(working.StartedAt), formatTimePtr(working.CompletedAt),
			id, revision,
		)
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}
		if affected == 1 {
			return working, nil
		}
		// Another writer advanced the revision; re-read and re-apply.
	}
	return nil, services.Wrap(services.ErrInvalidState, "queue", "update", fmt.Sprintf("job %s is contended", id), nil)
}

func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Job, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, _, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLStore) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	terminal := terminalStatuses()
	args := make([]any, 0, len(terminal)+1)
	for _, status := range terminal {
		args = append(args, string(status))
	}
	args = append(args, formatTime(before))
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(affected), nil
}

func (s *SQLStore) Counts(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
