// Package stores persists fetch runs, installed archives, and the event
// log in a local SQLite database.
//
// The database lives under the project store directory and is migrated on
// startup with embedded SQL migrations. Runs record one invocation of the
// fetcher, archive records track what each run downloaded or reused, and
// events form an append-only audit trail.
package stores
