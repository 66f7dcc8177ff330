// Package dlq implements the dead letter queue: an archive of work that
// failed permanently, retained with its final error detail for inspection
// and replay. Both time jobs and cron occurrences land here once their
// retry budget is exhausted or their function is not registered.
package dlq
