package redis

// Redis key naming conventions for TickerQ data.
// All keys are prefixed with "tickerq:" to avoid collisions.

const keyPrefix = "tickerq:"

// ── Job keys ──

// jobKey returns the key for a job blob: tickerq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// jobDueKey is the Sorted Set of non-terminal jobs scored by ExecuteAt
// in unix milliseconds.
const jobDueKey = keyPrefix + "jobs_due"

// ── Cron keys ──

// defKey returns the key for a definition blob: tickerq:cron:{id}
func defKey(id string) string { return keyPrefix + "cron:" + id }

// defIDsKey is the Set tracking all definition IDs for enumeration.
const defIDsKey = keyPrefix + "cron_ids"

// defNamesKey maps definition names to IDs for duplicate detection.
const defNamesKey = keyPrefix + "cron_names"

// occKey returns the key for an occurrence blob: tickerq:occ:{id}
func occKey(id string) string { return keyPrefix + "occ:" + id }

// occIDsKey is the Set tracking all occurrence IDs for enumeration.
const occIDsKey = keyPrefix + "occ_ids"

// occDueKey is the Sorted Set of non-terminal occurrences scored by
// DueAt in unix milliseconds.
const occDueKey = keyPrefix + "occs_due"

// occSlotsKey maps "{definitionID}|{slotMillis}" to occurrence IDs,
// enforcing the one-occurrence-per-slot invariant via HSETNX.
const occSlotsKey = keyPrefix + "occ_slots"

// occByDefKey returns the Sorted Set of a definition's occurrences
// scored by SlotAt: tickerq:occ_bydef:{definitionID}
func occByDefKey(defID string) string { return keyPrefix + "occ_bydef:" + defID }

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry blob: tickerq:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Sorted Set of DLQ entry IDs scored by FailedAt.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Cluster keys ──

// nodeKey returns the key for a node blob: tickerq:node:{id}
func nodeKey(id string) string { return keyPrefix + "node:" + id }

// nodeIDsKey is the Set tracking all node IDs for enumeration.
const nodeIDsKey = keyPrefix + "node_ids"
