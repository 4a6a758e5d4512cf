package ledger

import (
	"fmt"
	"maps"
)

// Entry is the public view of one ledger slot.
type Entry struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	// Confirmed is false while an optimistic transition awaits the authority.
	Confirmed bool `json:"confirmed"`

	// Previous is the status that will be restored if the pending
	// transition is refused. Empty when confirmed.
	Previous Status `json:"previous,omitempty"`
}

// Ticket identifies one optimistic transition.
type Ticket struct {
	ID         string
	From       Status
	To         Status
	Generation uint64
	Seq        uint64
}

type slot struct {
	status   Status
	inflight *Ticket
}

// Ledger maps transaction ids to their current disposition.
type Ledger struct {
	vocab   Vocabulary
	gen     uint64
	seq     uint64
	slots   map[string]*slot
	order   []string
	counts  map[Status]int
	pending int
}

// New returns an empty ledger for vocab.
func New(vocab Vocabulary) *Ledger {
	l := &Ledger{vocab: vocab}
	l.reset()
	return l
}

// Vocabulary returns the ledger's vocabulary.
func (l *Ledger) Vocabulary() Vocabulary { return l.vocab }

// Generation increases every time the ledger is seeded or cleared.
func (l *Ledger) Generation() uint64 { return l.gen }

// Len returns the number of tracked transactions.
func (l *Ledger) Len() int { return len(l.order) }

// InFlight returns the number of transitions awaiting confirmation.
func (l *Ledger) InFlight() int { return l.pending }

// Seed replaces the ledger with ids, all at the vocabulary's initial status.
// Outstanding tickets become stale.
func (l *Ledger) Seed(ids []string) {
	l.reset()
	initial := l.vocab.Initial()
	l.order = make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := l.slots[id]; dup {
			continue
		}
		l.slots[id] = &slot{status: initial}
		l.order = append(l.order, id)
	}
	l.counts[initial] = len(l.order)
}

// Clear empties the ledger. Outstanding tickets become stale.
func (l *Ledger) Clear() {
	l.reset()
}

func (l *Ledger) reset() {
	l.gen++
	l.slots = make(map[string]*slot)
	l.order = nil
	l.pending = 0
	l.counts = make(map[Status]int, len(l.vocab.Statuses))
	for _, s := range l.vocab.Statuses {
		l.counts[s] = 0
	}
}

// Get returns the entry for id.
func (l *Ledger) Get(id string) (Entry, bool) {
	s, ok := l.slots[id]
	if !ok {
		return Entry{}, false
	}
	return l.entry(id, s), true
}

// Status returns the current status of id, or the empty status when unknown.
func (l *Ledger) Status(id string) Status {
	if s, ok := l.slots[id]; ok {
		return s.status
	}
	return ""
}

// Entries returns every entry in seed order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entry(id, l.slots[id]))
	}
	return out
}

func (l *Ledger) entry(id string, s *slot) Entry {
	e := Entry{ID: id, Status: s.status, Confirmed: s.inflight == nil}
	if s.inflight != nil {
		e.Previous = s.inflight.From
	}
	return e
}

// Counts returns the number of transactions per status. Every vocabulary
// status is present, zero or not.
func (l *Ledger) Counts() map[Status]int {
	return maps.Clone(l.counts)
}

// Begin validates and optimistically applies id -> to. The returned ticket
// must later be passed to Commit or Revert.
func (l *Ledger) Begin(id string, to Status) (Ticket, error) {
	s, ok := l.slots[id]
	if !ok {
		return Ticket{}, fmt.Errorf("%w: unknown transaction %q", ErrInvalidTransition, id)
	}
	if !l.vocab.Contains(to) {
		return Ticket{}, fmt.Errorf("%w: status %q is not used by %s", ErrInvalidTransition, to, l.vocab.Name)
	}
	if s.inflight != nil {
		return Ticket{}, fmt.Errorf("%w: %s -> %s awaiting confirmation", ErrTransitionInFlight, s.inflight.From, s.inflight.To)
	}
	if !l.vocab.Allows(s.status, to) {
		return Ticket{}, fmt.Errorf("%w: %s -> %s not allowed", ErrInvalidTransition, s.status, to)
	}

	l.seq++
	t := Ticket{ID: id, From: s.status, To: to, Generation: l.gen, Seq: l.seq}
	s.inflight = &t
	l.pending++
	l.set(s, to)
	return t, nil
}

// Commit marks the ticket's transition as confirmed. It returns false when
// the ticket is stale and nothing changed.
func (l *Ledger) Commit(t Ticket) bool {
	s, ok := l.current(t)
	if !ok {
		return false
	}
	s.inflight = nil
	l.pending--
	return true
}

// Revert restores the status held before the ticket's transition. It
// returns false when the ticket is stale and nothing changed.
func (l *Ledger) Revert(t Ticket) bool {
	s, ok := l.current(t)
	if !ok {
		return false
	}
	s.inflight = nil
	l.pending--
	l.set(s, t.From)
	return true
}

// Stale reports whether a ticket no longer matches an outstanding
// transition.
func (l *Ledger) Stale(t Ticket) bool {
	_, ok := l.current(t)
	return !ok
}

func (l *Ledger) current(t Ticket) (*slot, bool) {
	if t.Generation != l.gen {
		return nil, false
	}
	s, ok := l.slots[t.ID]
	if !ok || s.inflight == nil || s.inflight.Seq != t.Seq {
		return nil, false
	}
	return s, true
}

// set is the only place a slot's status changes, keeping counts exact.
func (l *Ledger) set(s *slot, to Status) {
	l.counts[s.status]--
	l.counts[to]++
	s.status = to
}
