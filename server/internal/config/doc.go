// Package config loads the hub configuration from config.yaml.
//
// Config fields:
//   - Server.HTTPPort         : port for REST, metrics and WebSocket (default 8080)
//   - Server.BroadcastInterval: time between broadcast ticks (default 5s)
//   - Server.SendTimeout      : deadline for one send to one client (default 10s)
//   - Server.MaxConnections   : WebSocket client cap, 0 = unlimited
//   - Server.WebSocketPath    : WebSocket mount point (default /ws/stream)
//   - Log.Level, Log.Format   : slog level and handler (default info, json)
//   - Feed.Days               : forecast entries per snapshot (default 5)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change and hands valid configs to fn.
package config
