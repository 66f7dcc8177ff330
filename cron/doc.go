// Package cron defines recurring schedule templates (definitions), their
// materialized firings (occurrences), the occurrence generator, and the
// cron persistence contract.
//
// A definition is never executed directly. The generator walks each active
// definition's schedule over a rolling lookahead horizon and materializes
// one occurrence record per due instant, keyed (definition, due instant)
// so re-running generation is idempotent. Occurrences then follow the same
// claim/lease/retry state machine as time jobs.
package cron
