// Package session tracks open preview sessions: one per opened
// resource, each bound to at most one live protocol connection, with
// the queued-resource handoff and the dual-URL construction policy.
package session
