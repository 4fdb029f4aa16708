// Package influxdb provides InfluxDB connectivity for Session Core.
//
// It wraps the official influxdb-client-go v2 library with Session Core
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Authentication event telemetry (logins, refreshes, failures)
//   - Concurrent session load over time
//
// The client satisfies the session service's EventRecorder interface, so it
// plugs straight into auth.ServiceDeps.Recorder.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "sessioncore",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record auth events
//	client.RecordAuthEvent("login", "alice", true)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This keeps the write path off the login/refresh critical path.
package influxdb
