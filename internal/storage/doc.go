// Package storage persists the scheduler document and the audit log.
//
// Drivers:
//   - file: <prefix>.schedules.json (rewritten via temp file + rename) and
//     <prefix>.audit.jsonl (append-only JSON Lines)
//   - sqlite: schedules and audit tables in one database file
//   - none: in-memory only, nothing survives a restart
package storage
