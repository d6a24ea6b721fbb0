// Package netutil provides ephemeral port allocation and TCP readiness
// probing for spawned app servers.
package netutil
