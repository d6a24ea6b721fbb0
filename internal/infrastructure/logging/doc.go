// Package logging provides structured logging built on zap.
//
// Production output is JSON to stdout; development output is colorized
// console encoding with stacktraces enabled. Subsystems obtain scoped
// loggers via Named so every line carries its origin.
package logging
