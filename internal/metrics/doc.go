// Package metrics accumulates weighted scalar observations per worker and
// synchronizes them across workers.
//
// Each Meter keeps two pairs of running totals: pending (observed locally
// since the last Sync) and synced (the group-wide totals). Sync all-reduces
// the pending deltas of every meter in one collective call and folds the
// result into the synced totals, so after Sync every worker reports the
// same GlobalAvg:
//
//	GlobalAvg = sum over workers of s_i / sum over workers of w_i
//
// Sync is a blocking collective. All workers must call it at the same
// logical points and with the same set of meter names.
//
// The package also exports epoch-level values to Prometheus (exporter.go).
package metrics
