package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `seq, id, schedule_hash, config, resumed_from, start_epoch, world_size, status, final_epoch, best_score`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := row.Scan(&r.Seq, &r.ID, &r.ScheduleHash, &r.Config, &r.ResumedFrom,
		&r.StartEpoch, &r.WorldSize, &r.Status, &r.FinalEpoch, &r.BestScore)
	return r, err
}

// GetRun returns the run with id, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns all runs in insertion order.
//
// Returns an empty slice (not nil) when the ledger is empty.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// PhaseSwitches returns the reconfigurations of a run ordered by epoch.
func (s *Store) PhaseSwitches(ctx context.Context, runID string) ([]PhaseSwitch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, epoch, phase_id, phase_name, rebuild_dataset, rebuild_optimizer, resume,
		       steps_per_epoch, total_steps, scheduler_position
		FROM phase_switches
		WHERE run_id = ?
		ORDER BY epoch ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query phase switches: %w", err)
	}
	defer rows.Close()

	out := []PhaseSwitch{}
	for rows.Next() {
		var ps PhaseSwitch
		var ds, opt, resume int
		if err := rows.Scan(&ps.RunID, &ps.Epoch, &ps.PhaseID, &ps.PhaseName, &ds, &opt, &resume,
			&ps.StepsPerEpoch, &ps.TotalSteps, &ps.SchedulerPosition); err != nil {
			return nil, fmt.Errorf("scan phase switch: %w", err)
		}
		ps.RebuildDataset = ds != 0
		ps.RebuildOptimizer = opt != 0
		ps.Resume = resume != 0
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase switches: %w", err)
	}
	return out, nil
}

// EpochMetrics returns the metrics of one split of a run, ordered by epoch
// then name. An empty split returns every split, ordered split first.
func (s *Store) EpochMetrics(ctx context.Context, runID, split string) ([]EpochMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, split, epoch, name, sum, weight, avg
		FROM epoch_metrics
		WHERE run_id = ? AND (? = '' OR split = ?)
		ORDER BY split COLLATE BINARY ASC, epoch ASC, name COLLATE BINARY ASC
	`, runID, split, split)
	if err != nil {
		return nil, fmt.Errorf("query epoch metrics: %w", err)
	}
	defer rows.Close()

	out := []EpochMetric{}
	for rows.Next() {
		var m EpochMetric
		if err := rows.Scan(&m.RunID, &m.Split, &m.Epoch, &m.Name, &m.Sum, &m.Weight, &m.Avg); err != nil {
			return nil, fmt.Errorf("scan epoch metric: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epoch metrics: %w", err)
	}
	return out, nil
}

// CheckpointWrites returns the checkpoint writes of a run in write order.
func (s *Store) CheckpointWrites(ctx context.Context, runID string) ([]CheckpointWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, slot, epoch, score, path
		FROM checkpoint_writes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint writes: %w", err)
	}
	defer rows.Close()

	out := []CheckpointWrite{}
	for rows.Next() {
		var cw CheckpointWrite
		if err := rows.Scan(&cw.Seq, &cw.RunID, &cw.Slot, &cw.Epoch, &cw.Score, &cw.Path); err != nil {
			return nil, fmt.Errorf("scan checkpoint write: %w", err)
		}
		out = append(out, cw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint writes: %w", err)
	}
	return out, nil
}

// Query runs a read-only query against the ledger. The caller closes the
// rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}
