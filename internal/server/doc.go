// Package server is the composition root: it builds the component
// graph from configuration, mounts the HTTP and WebSocket surfaces,
// and owns startup and the ordered shutdown of sessions, processes,
// and the listener.
package server
