// Package client implements the consumer-facing session client for
// Session Core.
//
// This package provides:
//   - SessionClient: a single-owner session state machine with proactive
//     token refresh and single-flight refresh coalescing
//   - Cache: an optional on-disk token cache so a restarted process resumes
//     its session via refresh instead of fresh credentials
//   - ConnectivityMonitor: periodic health probing with exponential backoff
//     and edge-triggered offline/online callbacks
//   - SessionChannel: the WebSocket push channel consumer that feeds session
//     events (force logout, permission changes) into the client
//
// # State machine
//
// The client is always in exactly one of five states: LoggedOut, LoggingIn,
// Authenticated, Refreshing, Offline. Consumers observe it through State()
// or a Subscribe() stream; they never mutate it directly.
//
// Connectivity-class failures (no response, gateway timeout) are never
// reported as invalid credentials — they route to Offline, and the session
// resumes automatically once the monitor sees the server again.
package client
