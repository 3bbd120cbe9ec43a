package kv

// Logical key layout. The redis store prefixes these with its namespace;
// everything else in the codebase speaks in these terms.
const (
	KeyReady       = "ready"        // zset of task JSON, score = priority score
	KeyScheduled   = "scheduled"    // zset of task JSON, score = scheduled_for epoch ms
	KeyProcessing  = "processing"   // zset of task JSON, score = lease acquisition ms
	KeyFailed      = "failed"       // zset of task JSON (DLQ), score = failure ms
	KeyStatus      = "status"       // hash: task id -> status record JSON
	KeyAlerts      = "alerts"       // zset of alert ids, score = raised ms
	KeySearchStats = "search:stats" // cached health report JSON
)

// JobKey mirrors a task record for random access by id.
func JobKey(id string) string { return "job:" + id }

// DocKey holds full documents of one type (hash: id -> doc JSON).
func DocKey(docType string) string { return "doc:" + docType }

// MetaKey holds document metadata of one type (hash: id -> meta JSON).
func MetaKey(docType string) string { return "meta:" + docType }

// PostingKey is the inverted-index posting list for a term
// (zset: "type:id" -> score).
func PostingKey(term string) string { return "posting:" + term }

// LockKey names a distributed lock.
func LockKey(name string) string { return "lock:" + name }

// AlertKey holds the detail record for one alert (string: JSON).
func AlertKey(id string) string { return "alert:" + id }

// MetricsKey holds short-lived counters (TTL <= 1h).
func MetricsKey(name string) string { return "metrics:" + name }
