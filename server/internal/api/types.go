package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State           string  `json:"state"`
	Connections     int     `json:"connections"`
	Ticks           uint64  `json:"ticks"`
	IntervalSeconds float64 `json:"interval_seconds"`
	LastTick        string  `json:"last_tick,omitempty"` // RFC3339
	SnapshotSeq     uint64  `json:"snapshot_seq,omitempty"`
}

// ConnectionResponse is one entry in GET /api/v1/connections.
type ConnectionResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
