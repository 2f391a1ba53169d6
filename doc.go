// Package cleaner aggregates heterogeneous resources behind a single Clean
// call: callbacks, spawned tasks, event subscriptions, closable and
// destroyable handles, custom method invocations and nested cleaners are
// disposed in insertion order, exactly once, with per-entry fault isolation.
//
// Cleaners compose: a cleaner added to another cleaner is owned by it and
// cleaned with it. The finalize, lifebind, seal and poller packages build on
// this package to tie cleanup to object lifetimes.
package cleaner
