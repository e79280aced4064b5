// Package collective provides the cross-worker communication primitives
// used by data-parallel training.
//
// EXECUTION MODEL:
//
// Workers run the same control flow in lockstep (SPMD). Every collective
// call (AllReduce, Barrier) blocks until all workers of the group have made
// the same call. Workers must therefore issue collectives in the same
// logical order and the same number of times; a worker that skips or adds
// one deadlocks the group. This is a property of the calling protocol, not
// something the group can detect.
//
// There are no per-call timeouts. A stalled worker stalls the group. The
// only way out is cancelling the context of a blocked call, which aborts
// the whole group: every pending and future call on every member fails
// with ErrGroupAborted, so no member is left waiting forever.
//
// LocalGroup runs the workers as goroutines inside one process and is what
// the CLI uses. Other transports only need to satisfy Collective.
package collective
