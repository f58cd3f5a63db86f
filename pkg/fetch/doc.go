// Package fetch retrieves pinned external archives deterministically.
//
// Each pin is downloaded over HTTP with a streaming SHA-256, verified
// against the pinned hash before anything is installed, and extracted into
// the content store under <store>/<name>-<commit>/. A checksum mismatch
// fails closed: the partial download is removed, nothing is installed, and
// the error is never retried. Transient network failures are retried with a
// capped backoff across the pin's mirror URLs. Pins with a local override
// skip the fetch entirely.
//
// Results are recorded in a YAML lockfile (forge.lock) written atomically,
// which the verify command later replays against the store.
package fetch
