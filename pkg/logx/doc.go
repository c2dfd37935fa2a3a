// Package logx configures schedd's structured diagnostics.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Scheduler diagnostic categories mapped onto levels:
//     debug -> Debug, informational -> Info, error -> Error
package logx
