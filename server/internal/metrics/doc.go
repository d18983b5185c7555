// Package metrics defines the Prometheus collectors exported by the hub.
package metrics
