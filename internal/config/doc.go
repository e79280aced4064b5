// Package config loads and validates the run configuration.
//
// Files are YAML decoded in strict mode: unknown keys are rejected so a typo
// cannot silently fall back to a default. Values not present in the file keep
// the defaults from Default. Field constraints are declared as validator
// struct tags and checked by Validate.
package config
