// Package logx is timesync's structured logging layer on top of zerolog.
//
// Sinks:
//   - console: human readable; timestamps are dropped when stdout is already
//     captured by journald
//   - journal: native journald entries with fields as upper-case variables
//   - file: JSON lines rotated by lumberjack
//
// Loggers obtained from a Service follow later Service.Apply calls.
package logx
