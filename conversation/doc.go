// Package conversation turns a set of heterogeneous AI participants plus a
// human into a single ordered transcript. It owns the append-only message
// log, decides whose turn is next (round-robin or randomized with no
// immediate repeat), builds the per-turn prompt with phase-aware system
// instructions, enforces turn and wall-clock budgets, tolerates per-turn
// failures, and supports replaying a persisted transcript.
//
// The orchestrator runs one turn at a time, strictly sequentially; the log's
// append order is the single source of truth for what happened when.
package conversation
