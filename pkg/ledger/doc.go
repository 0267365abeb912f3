// Package ledger implements the per-device job ledger.
//
// A Ledger owns every job of one device: its id, status, progress and log.
// At most one job is active at a time; Admit is the single critical section
// that checks for an active job and creates the new one, so two concurrent
// callers can never both be admitted. Progress only moves forward and is
// pinned to 100 on every terminal transition.
package ledger
