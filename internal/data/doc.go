// Package data defines the batch and pipeline shapes shared by the dataset
// builders, perturbers and the training loop.
package data
