package dashboard

import (
	"time"

	"github.com/linnemanlabs/triagedesk/internal/aggregate"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// EventKind says what changed on a surface.
type EventKind string

const (
	EventBatch     EventKind = "batch"
	EventApplied   EventKind = "applied"
	EventConfirmed EventKind = "confirmed"
	EventReverted  EventKind = "reverted"
	EventCleared   EventKind = "cleared"
)

// Event is published after every accepted change, carrying the stats that
// match the new ledger state.
type Event struct {
	Surface    Kind            `json:"surface"`
	Kind       EventKind       `json:"kind"`
	BatchID    string          `json:"batch_id,omitempty"`
	Generation uint64          `json:"generation"`
	Entry      *ledger.Entry   `json:"entry,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stats      aggregate.Stats `json:"stats"`
	At         time.Time       `json:"at"`
}

// Publisher receives surface events. Publish is called with the surface
// lock held and must not block.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev Event) { f(ev) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
