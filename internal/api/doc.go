// Package api implements the HTTP REST API and WebSocket server for Session Core.
//
// This package provides:
//   - REST endpoints for login, token refresh with rotation, logout, and
//     current-user resolution
//   - Admin endpoints for force logout, permission-change notification, and
//     the audit trail
//   - A WebSocket push channel that delivers session events to connected
//     clients, keyed by user
//   - Middleware stack (request ID, logging, recovery, CORS, auth)
//   - TLS support for production deployments
//
// # Transport
//
// Tokens ride in httpOnly cookies for browser clients and in the
// Authorization header for programmatic clients; both are accepted
// everywhere. The refresh endpoint also accepts the refresh token in the
// request body for clients that cannot use cookies.
//
// # Push channel
//
// WebSocket connections authenticate in-band: the first client frame must be
// an authenticate message carrying a valid access token, sent within the
// configured auth timeout. Session events published on the MQTT relay topics
// by other processes are fanned out to the owning user's connections.
package api
