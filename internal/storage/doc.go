package storage

// Package storage persists the job orchestration state:
//   - Recurring schedule specs (and their last-run bookkeeping)
//   - The delivery queue with its status state machine
//   - The run-in-progress flag guarding schedule passes
//
// Status transitions are enforced here, not in callers: a terminal job
// (sent/failed) cannot be moved by the processor, and picking a job up
// is a conditional pending->sending update so two processors can never
// both claim the same job.
