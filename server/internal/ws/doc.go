// Package ws is the WebSocket transport for the broadcast hub.
//
// Server.ServeHTTP upgrades the request, wraps the socket as a *Conn (which
// implements hub.Connection), registers it with the hub, and then reads from
// the socket until it closes. The hub pushes the current payload right after
// registration and every tick after that. The registration handle is
// released on every exit path.
//
// Conn tracks the socket state so the hub can evict clients that went away:
// Open until a close frame is seen or sent (Closing), Closed once the read
// loop ends or the hub force-closes it, Errored after a failed write.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
