// Package dispatch runs compilations through the persistent cache.
//
// The Dispatcher looks an executable up in the cache before invoking a
// backend and writes fresh results back afterwards. Cache failures degrade
// to a plain compile unless strict mode is on, so a corrupt cache never
// blocks a build.
package dispatch
