// Package monitoring exposes Prometheus metrics for sessions, spawned
// processes, and protocol traffic, plus a gin middleware that records
// per-route request counts and latency.
package monitoring
