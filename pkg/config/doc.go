// Package config loads the forge.cue project configuration.
//
// The configuration is CUE and carries three sections:
//
//	build:  backend selection, store/cache directories, fetch parallelism,
//	        and compilation-cache tuning.
//	checks: static-analysis suppressions and the host allowlist applied to
//	        pinned archive URLs.
//	tests:  test-filter rules (skip/only patterns with reasons).
//
// Values are decoded into Go structs and validated with struct tags. CUE
// syntax or constraint errors are reported with file positions.
package config
