// Package log provides simple leveled logging for vpnc-enforcer.
//
// This package implements a lightweight logging system with colored output
// and support for different log levels: DEBUG, INFO, WARN, and ERROR.
//
// # Log Levels
//
//   - DEBUG: Detailed diagnostic information (only shown in verbose mode)
//   - INFO: General informational messages
//   - WARN: Warning messages, e.g. a primitive failure that enforcement tolerates
//   - ERROR: Error messages for failures that need operator attention
//
// # Example Usage
//
// Package-level logging:
//
//	log.Infof("Starting supervisor")
//	log.Errorf("Failed to load config: %v", err)
//
// Scoped logging for one VPN client interface:
//
//	l := log.With("[vpn_client tun0]")
//	l.Warnf("Failed to add route %s: %v", route, err)
//
// Output control:
//
//	log.SetForceStdErr(true) // Send all logs to stderr
//	log.SetOutput(&buf, &buf) // Capture logs in tests
//
// All functions are safe for concurrent use.
package log
