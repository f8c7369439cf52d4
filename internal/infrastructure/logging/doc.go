// Package logging provides structured logging for the simulator.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for machine consumption, text for terminals
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Output to stdout, stderr or an append-only log file
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in modsim.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "server.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	logger.Info("modbus server started", "name", "server")
package logging
