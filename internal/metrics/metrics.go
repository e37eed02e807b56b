// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint when
// the embedding server imports net/http.
package metrics

import "expvar"

// Operation counters.
var (
	ItemsTotal          = expvar.NewInt("dialogmem_items_total")
	OracleCalls         = expvar.NewInt("dialogmem_oracle_calls_total")
	OracleCacheHits     = expvar.NewInt("dialogmem_oracle_cache_hits_total")
	OracleErrors        = expvar.NewInt("dialogmem_oracle_errors_total")
	OracleBudgetDenials = expvar.NewInt("dialogmem_oracle_budget_denials_total")
	Contradictions      = expvar.NewInt("dialogmem_contradictions_total")
	DecayEvictions      = expvar.NewInt("dialogmem_decay_evictions_total")
	FeedbackEvents      = expvar.NewInt("dialogmem_feedback_events_total")
	EntitiesCreated     = expvar.NewInt("dialogmem_entities_created_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
