package storage

// Package storage provides a minimal persistence layer for scheduler
// diagnostics.
//
// It currently supports:
//   - Diagnostic event appends (noisy/missed frames, skipped slots, ...)
//   - Periodic scheduler snapshots (for post-hoc frame timing analysis)
//
// Timing-critical state is never persisted; the scheduler rebuilds its
// frame position from the tone and MET on every start.
