package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scraperd/internal/model/sqlquery"
)

// SQLStore implements ConfigStore and RunLog over postgres. Per-kind
// serialization comes from row locks (SELECT ... FOR UPDATE inside a
// transaction), so operations on different kinds never block each other.
type SQLStore struct {
	database *sql.DB
	now      func() time.Time
}

func NewSQLStore(ctx context.Context, driverName, dataSourceName string) (*SQLStore, error) {
	database, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed opening database: %w", err)
	}

	if err = database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed checking database availibility: %w", err)
	}

	store := &SQLStore{database, time.Now}
	if err = store.init(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed initializing storage: %w", err)
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an already open handle without running migrations.
func NewSQLStoreFromDB(database *sql.DB) *SQLStore {
	return &SQLStore{database, time.Now}
}

// init creates the schema and clears any running flag left behind by a
// previous process: a crash mid-run must not wedge the execution guard.
func (st *SQLStore) init(ctx context.Context) error {
	return st.transact(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, query := range []string{
			sqlquery.CreateConfigTable,
			sqlquery.CreateRunTable,
			sqlquery.CreateRunQueryIndex,
			sqlquery.CreateRunTerminalIndex,
		} {
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return fmt.Errorf("failed creating schema: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, sqlquery.ResetRunning, st.now()); err != nil {
			return fmt.Errorf("failed resetting running state: %w", err)
		}
		return nil
	})
}

func (st *SQLStore) Get(ctx context.Context, kind JobKind) (JobConfig, error) {
	if !kind.Valid() {
		return JobConfig{}, fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}

	config, err := st.getBy(ctx, sqlquery.GetConfig, kind)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, ErrorNotFound) {
		return JobConfig{}, fmt.Errorf("failed getting config for %s: %w", kind, err)
	}

	// Lazy creation: insert the per-kind default, then re-read. ON CONFLICT
	// DO NOTHING makes a concurrent first access harmless.
	_, err = st.database.ExecContext(ctx, sqlquery.InsertDefaultConfig, kind, kind.DefaultInterval(), st.now())
	if err != nil {
		return JobConfig{}, fmt.Errorf("failed creating default config for %s: %w", kind, err)
	}
	config, err = st.getBy(ctx, sqlquery.GetConfig, kind)
	if err != nil {
		return JobConfig{}, fmt.Errorf("failed getting config for %s: %w", kind, err)
	}
	return config, nil
}

func (st *SQLStore) List(ctx context.Context) ([]JobConfig, error) {
	for _, kind := range Kinds() {
		if _, err := st.Get(ctx, kind); err != nil {
			return nil, err
		}
	}

	rows, err := st.database.QueryContext(ctx, sqlquery.ListConfigs)
	if err != nil {
		return nil, fmt.Errorf("failed listing configs: %w", err)
	}
	defer rows.Close()

	configs := make([]JobConfig, 0, len(Kinds()))
	for rows.Next() {
		config := JobConfig{}
		if err := scanConfig(rows, &config); err != nil {
			return nil, fmt.Errorf("failed scanning config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed listing configs: %w", err)
	}
	return configs, nil
}

func (st *SQLStore) Update(ctx context.Context, kind JobKind, patch ConfigPatch) (JobConfig, error) {
	if _, err := st.Get(ctx, kind); err != nil {
		return JobConfig{}, err
	}

	updated := JobConfig{}
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		current := JobConfig{}
		if err := scanConfig(tx.QueryRowContext(ctx, sqlquery.GetConfigForUpdate, kind), &current); err != nil {
			return fmt.Errorf("failed reading config: %w", err)
		}

		enabled := current.Enabled
		if patch.Enabled != nil {
			enabled = *patch.Enabled
		}
		interval := current.IntervalHours
		if patch.IntervalHours != nil {
			interval = *patch.IntervalHours
		}
		if err := kind.ValidateInterval(interval); err != nil {
			return err
		}

		err := scanConfig(tx.QueryRowContext(ctx, sqlquery.UpdateConfig, kind, enabled, interval, st.now()), &updated)
		if err != nil {
			return fmt.Errorf("failed scanning updated config: %w", err)
		}
		return nil
	}

	if err := st.transact(ctx, transactionFunc); err != nil {
		if errors.Is(err, ErrorInvalidInterval) {
			return JobConfig{}, err
		}
		return JobConfig{}, fmt.Errorf("failed updating config for %s: %w", kind, err)
	}
	return updated, nil
}

func (st *SQLStore) SetRunning(ctx context.Context, kind JobKind, running bool, lastRunAt *time.Time) (JobConfig, error) {
	if _, err := st.Get(ctx, kind); err != nil {
		return JobConfig{}, err
	}

	config := JobConfig{}
	err := scanConfig(st.database.QueryRowContext(ctx, sqlquery.SetRunning, kind, running, lastRunAt, st.now()), &config)
	if err != nil {
		return JobConfig{}, fmt.Errorf("failed setting running=%t for %s: %w", running, kind, err)
	}
	return config, nil
}

func (st *SQLStore) TryMarkRunning(ctx context.Context, kind JobKind) (bool, error) {
	if _, err := st.Get(ctx, kind); err != nil {
		return false, err
	}

	var claimed JobKind
	err := st.database.QueryRowContext(ctx, sqlquery.TryMarkRunning, kind, st.now()).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed marking %s running: %w", kind, err)
	}
	return true, nil
}

func (st *SQLStore) SetNextRun(ctx context.Context, kind JobKind, next *time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}
	_, err := st.database.ExecContext(ctx, sqlquery.SetNextRun, kind, next, st.now())
	if err != nil {
		return fmt.Errorf("failed setting next run for %s: %w", kind, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(sc scanner, config *JobConfig) error {
	var lastRun, nextRun sql.NullTime
	err := sc.Scan(
		&config.Kind,
		&config.Enabled,
		&config.IntervalHours,
		&lastRun,
		&nextRun,
		&config.Running,
		&config.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrorNotFound
		}
		return err
	}
	if lastRun.Valid {
		config.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		config.NextRunAt = &nextRun.Time
	}
	return nil
}

func (st *SQLStore) getBy(ctx context.Context, query string, params ...any) (JobConfig, error) {
	config := JobConfig{}
	err := scanConfig(st.database.QueryRowContext(ctx, query, params...), &config)
	if err != nil {
		return JobConfig{}, err
	}
	return config, nil
}

func (st *SQLStore) transact(ctx context.Context, transactionFunc func(context.Context, *sql.Tx) error) error {
	tx, err := st.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = transactionFunc(ctx, tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}
