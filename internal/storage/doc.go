// Package storage persists what must survive a restart: the audit trail of
// forward jobs and join batches, the per-target duplicate window and the
// membership facts learned while joining.
//
// Drivers: "sqlite" (modernc.org/sqlite, WAL) and "file" (JSON Lines).
// "none" or an empty driver disables persistence.
package storage
