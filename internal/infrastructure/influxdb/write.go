package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRequests  = "modbus_requests"
	MeasurementLifecycle = "simulator_lifecycle"
)

// WriteRequestCounts records the cumulative request and exception counters
// of one Modbus function code.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - server: Server profile name (e.g., "tcp")
//   - functionCode: Modbus function code the counters belong to
//   - requests: Requests handled since start
//   - exceptions: Exception responses sent since start
func (c *Client) WriteRequestCounts(server string, functionCode byte, requests, exceptions uint64) {
	c.WritePoint(MeasurementRequests,
		map[string]string{
			"server":        server,
			"function_code": fmt.Sprintf("0x%02X", functionCode),
		},
		map[string]any{
			"requests":   requests,
			"exceptions": exceptions,
		},
	)
}

// WriteLifecycle records a simulator lifecycle event such as "up" or
// "protocol_exited". cause is stored as a field when non-nil.
func (c *Client) WriteLifecycle(event, server string, cause error) {
	fields := map[string]any{"value": 1}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	c.WritePoint(MeasurementLifecycle,
		map[string]string{
			"server": server,
			"event":  event,
		},
		fields,
	)
}

// WritePoint writes a custom point with the current time.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// The instance tag is added unless tags already set one.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	all := make(map[string]string, len(tags)+1)
	if c.instance != "" {
		all["instance"] = c.instance
	}
	for k, v := range tags {
		all[k] = v
	}

	c.writer.WritePoint(write.NewPoint(measurement, all, fields, timestamp))
}
