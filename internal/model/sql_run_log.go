package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"scraperd/internal/model/sqlquery"
)

func (st *SQLStore) RecordStart(ctx context.Context, kind JobKind, message string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}

	id := uuid.NewString()
	_, err := st.database.ExecContext(
		ctx,
		sqlquery.InsertRun,
		id,
		nil,
		kind,
		StatusStarted,
		message,
		nil,
		nil,
		nil,
		st.now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed recording run start for %s: %w", kind, err)
	}
	return id, nil
}

func (st *SQLStore) RecordTerminal(ctx context.Context, runID string, status RunStatus, message string, durationMs uint64, itemsProcessed *uint64, errorMessages []string) error {
	if status != StatusCompleted && status != StatusError {
		return fmt.Errorf("status %q is not terminal", status)
	}

	var kind JobKind
	err := st.database.QueryRowContext(ctx, sqlquery.GetStartedRun, runID).Scan(&kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %s: %w", runID, ErrorNotFound)
		}
		return fmt.Errorf("failed looking up run %s: %w", runID, err)
	}

	// The partial unique index on run_id plus ON CONFLICT DO NOTHING makes a
	// second terminal record for the same run a silent no-op.
	_, err = st.database.ExecContext(
		ctx,
		sqlquery.InsertTerminalRun,
		uuid.NewString(),
		runID,
		kind,
		status,
		message,
		durationMs,
		itemsProcessed,
		errorList(errorMessages),
		st.now(),
	)
	if err != nil {
		return fmt.Errorf("failed recording terminal entry for run %s: %w", runID, err)
	}
	return nil
}

func (st *SQLStore) Append(ctx context.Context, entry JobRun) error {
	if !entry.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrorUnknownKind, string(entry.Kind))
	}

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = st.now()
	}
	_, err := st.database.ExecContext(
		ctx,
		sqlquery.InsertRun,
		id,
		nullableID(entry.RunID),
		entry.Kind,
		entry.Status,
		entry.Message,
		entry.DurationMs,
		entry.ItemsProcessed,
		errorList(entry.ErrorMessages),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed appending log entry for %s: %w", entry.Kind, err)
	}
	return nil
}

func (st *SQLStore) Query(ctx context.Context, kind JobKind, limit int, before *time.Time) ([]JobRun, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = st.database.QueryContext(ctx, sqlquery.QueryRunsBefore, kind, *before, limit)
	} else {
		rows, err = st.database.QueryContext(ctx, sqlquery.QueryRuns, kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed querying runs for %s: %w", kind, err)
	}
	defer rows.Close()

	runs := make([]JobRun, 0, limit)
	for rows.Next() {
		run := JobRun{}
		if err := scanRun(rows, &run); err != nil {
			return nil, fmt.Errorf("failed scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed querying runs for %s: %w", kind, err)
	}
	return runs, nil
}

func scanRun(sc scanner, run *JobRun) error {
	var runID sql.NullString
	var durationMs, itemsProcessed sql.NullInt64
	var errorMessages pq.StringArray
	err := sc.Scan(
		&run.ID,
		&runID,
		&run.Kind,
		&run.Status,
		&run.Message,
		&durationMs,
		&itemsProcessed,
		&errorMessages,
		&run.CreatedAt,
	)
	if err != nil {
		return err
	}
	if runID.Valid {
		run.RunID = runID.String
	}
	if durationMs.Valid {
		value := uint64(durationMs.Int64)
		run.DurationMs = &value
	}
	if itemsProcessed.Valid {
		value := uint64(itemsProcessed.Int64)
		run.ItemsProcessed = &value
	}
	if len(errorMessages) > 0 {
		run.ErrorMessages = []string(errorMessages)
	}
	return nil
}

func errorList(messages []string) interface{} {
	if len(messages) == 0 {
		return nil
	}
	return pq.Array(messages)
}

func nullableID(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}
