// Package synthetic provides self-contained data and compute collaborators
// for the training loop: a procedurally generated classification dataset
// sharded by rank, a softmax-regression model whose parameter shapes do not
// depend on input resolution, and a compute step with a dynamic loss scaler
// that reports unstable steps.
//
// Everything is deterministic given the seed, so two runs (or a run and its
// resumed continuation) see identical batches and identical updates.
package synthetic
