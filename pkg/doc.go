// Package pkg provides shared utilities for the sieusb device firmware core.
//
// This package contains functionality used by the controller, the control
// transfer engine and the mass-storage transport:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for USB signalling and storage failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentController, "configured", "config", 1)
//
// Nothing in the firmware core changes behaviour based on logging; the
// default level is Warn so that per-transaction records cost nothing.
//
// # Errors
//
// Outcomes are reported as sentinel values:
//
//	if errors.Is(err, pkg.ErrAborted) {
//	    // a new SETUP superseded the control session
//	}
package pkg
