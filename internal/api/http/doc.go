// Package http implements the gateway's HTTP surface: the control API
// the embedding host drives, the static router that serves app bundles
// and the shared SDK, and the polling bridge for apps without a
// WebSocket.
package http
