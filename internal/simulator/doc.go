// Package simulator couples the Modbus protocol server and the HTTP server
// into one supervised process.
//
// New does every piece of configuration work up front: it loads the setup
// document, selects the server and device profiles, builds the device and
// constructs the protocol server. Nothing is opened. Run then starts the
// HTTP server, whose first startup hook starts the protocol server, so the
// HTTP listener only accepts once the protocol server is serving. On
// shutdown the HTTP server stops accepting first and the protocol server is
// cancelled and awaited in its shutdown hook.
//
// Lifecycle events are fanned out to the configured sinks: the WebSocket hub
// always, and MQTT, InfluxDB and the SQLite journal when the caller passes
// connected clients in Options.
package simulator
