// Package logging provides the process-wide zap logger used by every Roehn
// package.
//
// Logging is silent unless a level is given explicitly or through the
// ROEHN_LOG_LEVEL environment variable, so CLI output stays clean by default.
//
// # Log Levels
//
//   - Debug: datagrams and text lines on the wire (hex and ASCII dumps)
//   - Info: connections, discovery results, listener state changes
//   - Warn: dropped connections, recovered handler panics, reconnects
//   - Error: failures that end a command
//
// # Wire Logging
//
//	logging.LogDatagram("sent", "192.168.1.50:2006", packet)
//	logging.LogLine("received", "192.168.1.50:23", "R:LOAD 1201 2 80")
//	logging.LogConnection("192.168.1.50:23", "listener_connected")
//
// # Component Loggers
//
// Long-lived components take a named child logger so their output can be
// filtered:
//
//	log := logging.Named("events")
//	log.Info("listener started", zap.String("host", host))
package logging
