// Package dashboard owns the per-surface review state: the ingested batch,
// its status ledger, the aggregate stats derived from both, and the account
// graph.
//
// A Surface serializes every ledger mutation behind one mutex and recomputes
// stats inside the same critical section, so an observer never sees a
// ledger without its matching aggregate. Remote confirmation runs outside
// the lock; its answer is applied only if the ticket it was issued under is
// still current.
package dashboard
