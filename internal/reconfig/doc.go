// Package reconfig decides and applies phase reconfigurations.
//
// Decide is a pure function of the previous and current phase. Plan derives
// the previous phase from the schedule and the epoch alone, so a resumed run
// replays exactly the decisions an uninterrupted run made. Controller is the
// single rebuild path that consumes a Decision: it rebuilds the dataset
// pipeline, the optimizer and its scheduler, and positions the scheduler
// inside the active phase.
package reconfig
