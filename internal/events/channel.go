package events

import (
	"context"
	"sync"

	"demura/internal/ledger/models"
)

// ChannelPublisher collects published events in memory. It backs tests
// and broker-less deployments; consumers drain Events.
type ChannelPublisher struct {
	mu     sync.Mutex
	events []models.RateChangeScheduled
}

// NewChannelPublisher creates an empty in-memory publisher.
func NewChannelPublisher() *ChannelPublisher {
	return &ChannelPublisher{}
}

// Publish records the event.
func (p *ChannelPublisher) Publish(ctx context.Context, event models.RateChangeScheduled) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *ChannelPublisher) Events() []models.RateChangeScheduled {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.RateChangeScheduled, len(p.events))
	copy(out, p.events)
	return out
}
