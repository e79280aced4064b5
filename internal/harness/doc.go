// Package harness runs training scenarios end to end and checks the ledger
// they leave behind.
//
// A scenario is a sequence of runs against one model directory and one run
// ledger. Each run launches in-process workers with a scripted model, so
// validation scores, unstable steps and stop requests happen exactly where
// the scenario says. After the last run the ledger is read back into an
// ordered trace of run_begin, phase_switch, checkpoint and run_end events.
//
// # Scenario Format
//
//	name: stop_and_resume
//	description: "Stop after epoch 1, resume from the saved slot"
//	phases: ../phases/two_phase.yaml
//	workers: 2
//	train_size: 16
//	val_size: 8
//	step_accounting: applied
//	runs:
//	  - run_id: run-a
//	    scores: [0.25, 0.5]
//	    save_name: first
//	    stop_at: {rank: 1, epoch: 1, step: 0}
//	  - run_id: run-b
//	    resume: true
//	    resume_name: first
//	assertions:
//	  - type: trace_contains
//	    event: phase_switch
//	    run: run-b
//	    args: {epoch: 2, resume: true}
//	  - type: final_state
//	    table: runs
//	    where: {id: run-a}
//	    expect: {status: stopped, final_epoch: 2}
//
// # Assertion Types
//
//   - trace_contains: an event with matching args appears in the trace
//   - trace_order: events appear in the given order
//   - trace_count: an event appears exactly count times
//   - final_state: one ledger row matches where and has the expected columns
//
// Traces contain no paths or timings, so they are compared byte for byte
// against golden files with RunWithGolden.
package harness
