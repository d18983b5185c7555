// Package hub broadcasts the latest feed snapshot to every registered
// connection.
//
// Scheduler owns the broadcast cadence. On every tick it asks the Generator
// for fresh data, serializes it once, and hands the same bytes to each
// connection in a registry snapshot. Connections whose state is no longer
// open are evicted; a failed send is logged and the connection stays
// registered until its state reports closure. Sends run concurrently, each
// bounded by the send timeout, so one stuck client cannot hold up the rest.
//
// A tick is skipped while the previous tick still has sends in flight.
//
// Register adds a connection and pushes the current payload to it right away,
// without waiting for the next tick. Sends to one connection are serialized
// and a payload older than one already sent is dropped, so a connection sees
// sequence numbers in increasing order even when its first push races a tick.
//
// Lifecycle: Stopped -> Running (Start) -> Stopping -> Stopped (Stop).
// Shutdown stops the scheduler and force-closes every registered connection.
package hub
