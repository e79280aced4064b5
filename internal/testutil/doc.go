// Package testutil provides deterministic collaborators for exercising the
// training loop in tests: a labelled pipeline whose samples carry their own
// indices, a model with scripted validation accuracy, and a stepper with
// scripted loss and instability.
package testutil
