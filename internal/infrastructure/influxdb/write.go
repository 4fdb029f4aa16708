package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordAuthEvent writes an authentication event measurement.
//
// This is the primary method for recording auth telemetry and satisfies the
// session service's EventRecorder interface. The write is non-blocking; data
// is batched and sent asynchronously, and a disconnected client drops the
// point silently — telemetry never blocks or fails an auth operation.
//
// Parameters:
//   - action: The auth action (login, refresh, logout, force_logout)
//   - username: The username involved (may be empty for anonymous failures)
//   - success: Whether the operation succeeded
//
// Example:
//
//	client.RecordAuthEvent("login", "alice", true)
//	client.RecordAuthEvent("refresh", "", false)
func (c *Client) RecordAuthEvent(action string, username string, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"auth_events",
		map[string]string{
			"action":  action,
			"success": strconv.FormatBool(success),
		},
		map[string]interface{}{
			"count":    1,
			"username": username,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionGauge records the current number of active refresh tokens.
//
// Intended to be called periodically so dashboards can chart concurrent
// session load over time.
func (c *Client) WriteSessionGauge(activeTokens int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sessions",
		nil,
		map[string]interface{}{
			"active_refresh_tokens": activeTokens,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
