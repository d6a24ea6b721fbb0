// Package process supervises app server child processes: spawn with
// port substitution, TCP readiness probing, asynchronous exit
// observation, and graceful-then-forced termination.
package process
