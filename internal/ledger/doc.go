// Package ledger tracks the human disposition of every transaction in a
// batch. One Ledger belongs to one dashboard surface and is parameterised by
// that surface's Vocabulary.
//
// Transitions are two-phase. Begin applies the new status locally and hands
// back a Ticket; the owner asks the remote Authority to confirm it and then
// calls Commit or Revert with the ticket. Tickets carry the ledger
// generation they were issued under, so a response arriving after Seed or
// Clear is recognised as stale and ignored.
//
// A Ledger is not safe for concurrent use. Its owner serialises access and
// recomputes derived statistics inside the same critical section.
package ledger
