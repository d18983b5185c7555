// Package snapshot holds the latest serialized feed payload.
//
// A Payload is encoded once and then shared, read-only, by every connection
// that receives it and by the REST snapshot endpoint. Cache publishes payloads
// with an atomic pointer swap; it never mutates one in place.
package snapshot
