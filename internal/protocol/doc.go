// Package protocol defines the envelope wire format exchanged between
// the gateway and preview apps, and the pending-request table that
// correlates capability invocations with their results.
package protocol
