// Package logging provides structured logging for the firmware update
// core on top of log/slog.
//
// Every record carries service and version attributes. Output is text by
// default and JSON when configured:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("lifecycle").Info("device added", "device_id", id)
//
// Never log firmware payloads outside of verbose mode, or credentials.
package logging
