// Package journal keeps an optional SQLite audit trail of gate runs.
//
// Each run appends one row holding the device identifier, the registration
// result, the three decision fields (allowed, code, request_id) and whether
// the downstream task ran. The journal is write-mostly: the gate never reads
// it back to make a decision.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers (devicegate history) during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: several workers may share one journal file
//   - schema version tracked in PRAGMA user_version
//
// Record is idempotent on the run id.
package journal
