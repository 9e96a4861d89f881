// Package api exposes the server's HTTP routes: the /ws WebSocket upgrade,
// /healthz, and the script listing under /api.
package api
