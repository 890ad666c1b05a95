// Package sqlite implements runstore.Store over modernc.org/sqlite (the
// teacher's CGO-free driver choice), grounded on
// internal/store/sqlite/sqlite.go's New/EnsureSchema/Close shape.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/cid/internal/run"
	"github.com/loykin/cid/internal/runstore"
)

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path. Use ":memory:" for an in-memory
// store (tests).
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

// EnsureSchema creates the two-table partition spec §6 describes: runs_running
// holds in-flight Runs, runs holds only completed ones. A Run lives in exactly
// one of the two at a time; Finalize moves it across with a single
// transaction rather than flipping a column in place.
func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs_running(
		run_id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL,
		phase TEXT NOT NULL,
		schedule_time TIMESTAMP,
		start_time TIMESTAMP,
		trigger_type TEXT,
		trigger_data TEXT,
		concurrency_group TEXT,
		respawn INTEGER NOT NULL DEFAULT 0
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs(
		run_id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL,
		phase TEXT NOT NULL,
		schedule_time TIMESTAMP,
		start_time TIMESTAMP,
		stop_time TIMESTAMP,
		exit_code INTEGER NOT NULL DEFAULT 0,
		has_exited INTEGER NOT NULL DEFAULT 0,
		trigger_type TEXT,
		trigger_data TEXT,
		concurrency_group TEXT,
		respawn INTEGER NOT NULL DEFAULT 0
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_job_completed
		ON runs(job_name, stop_time DESC);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) InsertRunning(ctx context.Context, rn *run.Run) error {
	data, err := runstore.EncodeTriggerData(rn.TriggerData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs_running(run_id, job_name, phase, schedule_time, start_time,
			trigger_type, trigger_data, concurrency_group, respawn)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase=excluded.phase, start_time=excluded.start_time`,
		rn.RunID, rn.JobName, string(rn.Phase), rn.ScheduleTime, rn.StartTime,
		string(rn.TriggerType), data, rn.ConcurrencyGroup, boolToInt(rn.Respawn))
	return err
}

// Finalize moves rn from runs_running to runs as a single transaction
// (spec §4.6's "atomic pair"): a crash between the delete and the insert is
// impossible, so a Run is always in exactly one partition.
func (s *DB) Finalize(ctx context.Context, rn *run.Run) error {
	data, err := runstore.EncodeTriggerData(rn.TriggerData)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs_running WHERE run_id=?`, rn.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs(run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase=excluded.phase, stop_time=excluded.stop_time, exit_code=excluded.exit_code,
			has_exited=excluded.has_exited`,
		rn.RunID, rn.JobName, string(rn.Phase), rn.ScheduleTime, rn.StartTime, rn.StopTime,
		rn.ExitCode, boolToInt(rn.HasExited), string(rn.TriggerType), data,
		rn.ConcurrencyGroup, boolToInt(rn.Respawn)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *DB) LatestCompleted(ctx context.Context, jobName string) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn
		FROM runs WHERE job_name=? ORDER BY stop_time DESC LIMIT 1`, jobName)
	return scanRun(row)
}

func (s *DB) LatestCompletedWithExit(ctx context.Context, jobName string, zero bool) (*run.Run, error) {
	cmp := "exit_code = 0"
	if !zero {
		cmp = "exit_code != 0"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, phase, schedule_time, start_time, stop_time,
			exit_code, has_exited, trigger_type, trigger_data, concurrency_group, respawn
		FROM runs WHERE job_name=? AND `+cmp+`
		ORDER BY stop_time DESC LIMIT 1`, jobName)
	return scanRun(row)
}

func (s *DB) ListRunning(ctx context.Context) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
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
	var hasExited, respawn int
	if err := row.Scan(&rn.RunID, &rn.JobName, &phase, &rn.ScheduleTime, &rn.StartTime, &rn.StopTime,
		&rn.ExitCode, &hasExited, &triggerType, &triggerData, &rn.ConcurrencyGroup, &respawn); err != nil {
		return nil, err
	}
	rn.Phase = run.Phase(phase)
	rn.TriggerType = run.TriggerType(triggerType)
	rn.HasExited = hasExited != 0
	rn.Respawn = respawn != 0
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
	var respawn int
	if err := row.Scan(&rn.RunID, &rn.JobName, &phase, &rn.ScheduleTime, &rn.StartTime,
		&triggerType, &triggerData, &rn.ConcurrencyGroup, &respawn); err != nil {
		return nil, err
	}
	rn.Phase = run.Phase(phase)
	rn.TriggerType = run.TriggerType(triggerType)
	rn.Respawn = respawn != 0
	data, err := runstore.DecodeTriggerData(triggerData)
	if err != nil {
		return nil, err
	}
	rn.TriggerData = data
	return &rn, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
