// Package gateway is the protocol core: it opens sessions, binds
// WebSocket connections on the app:ready handshake, intercepts file
// operations, correlates capability invocations with their results,
// forwards everything else to registered listeners, and bridges apps
// that can only poll over HTTP.
package gateway
