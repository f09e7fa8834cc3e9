// Package logger wraps zap for the installer:
//   - a global sugared logger writing timestamped console lines,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and runtime level changes,
//   - convenience functions (Infof, WarnKV, ErrorKV, ...).
//
// Workflows receive a context and log through it, so every stage line carries
// the name of the component that produced it.
package logger
