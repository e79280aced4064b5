// Package model maps model names from the run configuration to builders.
//
// Names are resolved once at startup; an unknown name fails before any
// worker starts.
package model
