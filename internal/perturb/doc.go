// Package perturb provides the input perturbations applied to training
// batches before the compute step.
package perturb
