// Package postgres implements runstore.Store over pgx/v5's database/sql
// driver, grounded on internal/store/postgres/postgres.go's New/Record
// shape (same SQL pattern as sqlite, $N placeholders instead of ?).
package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/cid/internal/run"
	"github.com/loykin/cid/internal/runstore"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

// EnsureSchema creates the two-table partition spec §6 describes: runs_running
// holds in-flight Runs, runs holds only completed ones. A Run lives in exactly
// one of the two at a time; Finalize moves it across with a single
// transaction rather than flipping a column in place.
func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs_running(
		run_id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL,
		phase TEXT NOT NULL,
		schedule_time TIMESTAMPTZ,
		start_time TIMESTAMPTZ,
		trigger_type TEXT,
		trigger_data TEXT,
		concurrency_group TEXT,
		respawn BOOLEAN NOT NULL DEFAULT FALSE
	);`)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs(
		run_id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL,
		phase TEXT NOT NULL,
		schedule_time TIMESTAMPTZ,
		start_time TIMESTAMPTZ,
		stop_time TIMESTAMPTZ,
		exit_code INTEGER NOT NULL DEFAULT 0,
		has_exited BOOLEAN NOT NULL DEFAULT FALSE,
		trigger_type TEXT,
		trigger_data TEXT,
		concurrency_group TEXT,
		respawn BOOLEAN NOT NULL DEFAULT FALSE
	);`)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_job_completed
		ON runs(job_name, stop_time DESC);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) InsertRunning(ctx context.Context, rn *run.Run) error {
	data, err := runstore.EncodeTriggerData(rn.TriggerData)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO runs_running(run_id, job_name, phase, schedule_time, start_time,
			trigger_type, trigger_data, concurrency_group, respawn)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT(run_id) DO UPDATE SET
			phase=EXCLUDED.phase, start_time=EXCLUDED.start_time`,
		rn.RunID, rn.JobName, string(rn.Phase), rn.ScheduleTime, rn.StartTime,
		string(rn.TriggerType), data, rn.ConcurrencyGroup, rn.Respawn)
	return err
}

// Finalize moves rn from runs_running to runs as a single transaction
// (spec §4.6's "atomic pair"): a crash between the delete and the insert is
// impossible, so a Run is always in exactly one partition.
func (p *DB) Finalize(ctx context.Context, rn *run.Run) error {
	data, err := runstore.EncodeTriggerData(rn.TriggerData)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs_running WHERE run_id=$1`, rn.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs(run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT(run_id) DO UPDATE SET
			phase=EXCLUDED.phase, stop_time=EXCLUDED.stop_time, exit_code=EXCLUDED.exit_code,
			has_exited=EXCLUDED.has_exited`,
		rn.RunID, rn.JobName, string(rn.Phase), rn.ScheduleTime, rn.StartTime, rn.StopTime,
		rn.ExitCode, rn.HasExited, string(rn.TriggerType), data,
		rn.ConcurrencyGroup, rn.Respawn); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *DB) LatestCompleted(ctx context.Context, jobName string) (*run.Run, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn
		FROM runs WHERE job_name=$1 ORDER BY stop_time DESC LIMIT 1`, jobName)
	return scanRun(row)
}

func (p *DB) LatestCompletedWithExit(ctx context.Context, jobName string, zero bool) (*run.Run, error) {
	cmp := "exit_code = 0"
	if !zero {
		cmp = "exit_code != 0"
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn
		FROM runs WHERE job_name=$1 AND `+cmp+`
		ORDER BY stop_time DESC LIMIT 1`, jobName)
	return scanRun(row)
}

func (p *DB) ListRunning(ctx context.Context) ([]*run.Run, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id, job_name, phase, schedule_time, start_time,
			trigger_type, trigger_data, concurrency_group, respawn
		FROM runs_running`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*run.Run
	for rows.Next() {
		rn, err := scanRunningRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (*run.Run, error) {
	rn, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rn, err
}

func scanRunRow(row rowScanner) (*run.Run, error) {
	var rn run.Run
	var phase, triggerType, triggerData string
	if err := row.Scan(&rn.RunID, &rn.JobName, &phase, &rn.ScheduleTime, &rn.StartTime, &rn.StopTime,
		&rn.ExitCode, &rn.HasExited, &triggerType, &triggerData, &rn.ConcurrencyGroup, &rn.Respawn); err != nil {
		return nil, err
	}
	rn.Phase = run.Phase(phase)
	rn.TriggerType = run.TriggerType(triggerType)
	data, err := runstore.DecodeTriggerData(triggerData)
	if err != nil {
		return nil, err
	}
	rn.TriggerData = data
	return &rn, nil
}

func scanRunningRow(row rowScanner) (*run.Run, error) {
	var rn run.Run
	var phase, triggerType, triggerData string
	if err := row.Scan(&rn.RunID, &rn.JobName, &phase, &rn.ScheduleTime, &rn.StartTime,
		&triggerType, &triggerData, &rn.ConcurrencyGroup, &rn.Respawn); err != nil {
		return nil, err
	}
	rn.Phase = run.Phase(phase)
	rn.TriggerType = run.TriggerType(triggerType)
	data, err := runstore.DecodeTriggerData(triggerData)
	if err != nil {
		return nil, err
	}
	rn.TriggerData = data
	return &rn, nil
}
