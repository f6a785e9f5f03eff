package events

import "trustbook/internal/domain"

// Publisher is the fan-out half of the event service.
type Publisher interface {
	Publish(e *domain.Event)
}

// Batch collects the events recorded during one transaction so the
// transaction owner can fan them out after the commit. Events staged in a
// transaction that rolls back are discarded with it and never reach a
// listener.
type Batch struct {
	events []*domain.Event
}

func (b *Batch) Add(e *domain.Event) {
	b.events = append(b.events, e)
}

// Flush publishes every staged event in order and empties the batch. Call it
// only once the surrounding transaction has committed.
func (b *Batch) Flush(pub Publisher) {
	for _, e := range b.events {
		pub.Publish(e)
	}
	b.events = nil
}
