// Package optim provides an SGD optimizer with momentum and the step-indexed
// learning-rate schedulers named in phase schedules.
package optim
