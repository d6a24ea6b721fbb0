// Package middleware provides gin middleware for the gateway's HTTP
// surface: permissive CORS, iframe embeddability, and control-API rate
// limiting.
package middleware
