// Package influxdb writes simulator metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// Measurements:
//   - modbus_requests: request and exception counters per function code
//   - simulator_lifecycle: one point per lifecycle event
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, instanceID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLifecycle("up", "tcp", nil)
//
// Write errors are delivered asynchronously through SetOnError.
package influxdb
