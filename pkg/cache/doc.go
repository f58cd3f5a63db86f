// Package cache is the persistent compilation cache.
//
// Compiled executables are stored in an embedded Badger database keyed by a
// digest of the module bytecode, the compile options fingerprint, the
// backend platform, and the framework version. Any of those changing yields
// a different key, so stale artifacts are never served.
package cache
