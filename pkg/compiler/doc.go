// Package compiler is the interface to compilation backends.
//
// A Module is a unit of compiler input IR. Options carry the replica and
// partition counts, SPMD partitioning knobs, device assignment, and the
// feedback-directed-optimization profile version; DeriveOptions validates
// and assembles them the single supported way. Backends are registered by
// platform and compile modules into Executables.
package compiler
