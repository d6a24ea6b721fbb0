// Command previewd runs the preview-app hosting gateway: it serves
// static app bundles, supervises process-backed app servers, and speaks
// the preview protocol over a single WebSocket endpoint.
package main
