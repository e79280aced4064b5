package store

import (
	"context"
	"fmt"
)

// BeginRun inserts a run row with status running.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.Config == "" {
		run.Config = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, schedule_hash, config, resumed_from, start_epoch, world_size, status, best_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ScheduleHash,
		run.Config,
		run.ResumedFrom,
		run.StartEpoch,
		run.WorldSize,
		StatusRunning,
		run.BestScore,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordPhaseSwitch inserts a reconfiguration record.
// Uses ON CONFLICT DO NOTHING - a repeated write for the same epoch is ignored.
func (s *Store) RecordPhaseSwitch(ctx context.Context, ps PhaseSwitch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_switches
		(run_id, epoch, phase_id, phase_name, rebuild_dataset, rebuild_optimizer, resume,
		 steps_per_epoch, total_steps, scheduler_position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ps.RunID,
		ps.Epoch,
		ps.PhaseID,
		ps.PhaseName,
		boolToInt(ps.RebuildDataset),
		boolToInt(ps.RebuildOptimizer),
		boolToInt(ps.Resume),
		ps.StepsPerEpoch,
		ps.TotalSteps,
		ps.SchedulerPosition,
	)
	if err != nil {
		return fmt.Errorf("record phase switch: %w", err)
	}
	return nil
}

// RecordEpoch inserts the meter summaries of one epoch in a single
// transaction. Existing rows for the same key are left untouched.
func (s *Store) RecordEpoch(ctx context.Context, rows []EpochMetric) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record epoch: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO epoch_metrics (run_id, split, epoch, name, sum, weight, avg)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record epoch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.RunID, r.Split, r.Epoch, r.Name, r.Sum, r.Weight, r.Avg); err != nil {
			return fmt.Errorf("record epoch: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("record epoch: commit: %w", err)
	}
	return nil
}

// RecordCheckpoint appends a checkpoint write.
func (s *Store) RecordCheckpoint(ctx context.Context, cw CheckpointWrite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_writes (run_id, slot, epoch, score, path)
		VALUES (?, ?, ?, ?, ?)
	`, cw.RunID, cw.Slot, cw.Epoch, cw.Score, cw.Path)
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, finalEpoch int, bestScore float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, final_epoch = ?, best_score = ?
		WHERE id = ?
	`, status, finalEpoch, bestScore, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
