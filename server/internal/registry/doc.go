// Package registry tracks the set of live connections the hub broadcasts to.
//
// Registry is copy-on-write: Add and Remove build a new immutable set under a
// short-held mutex and publish it with an atomic pointer swap. Snapshot loads
// the current set without locking, so a broadcast iterating a snapshot never
// blocks connects or disconnects, and never observes a half-applied change.
//
// Add returns a *Handle. Releasing the handle (Handle.Unregister) is the only
// way a live registration leaves the set outside of Remove; it is safe to call
// any number of times from any exit path.
package registry
