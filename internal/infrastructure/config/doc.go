// Package config loads gateway configuration from PREVIEWD_* environment
// variables with sane defaults for local development.
package config
