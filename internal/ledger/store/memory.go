// Package store provides the ledger's persistence implementations. The
// memory store backs unit tests and single-node development; the postgres
// store is the durable production variant. Stores are pure I/O — decay
// math and invariant checks belong to the accountant and service.
package store

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"demura/internal/ledger/models"
	"demura/pkg/domain"
)

// Memory implements EntryStore, ScheduleStore and AllowanceStore with
// in-process maps.
type Memory struct {
	mu         sync.RWMutex
	values     map[domain.EntityID]*uint256.Int
	states     map[domain.EntityID]models.DecayState
	schedule   []models.RateChange
	allowances map[domain.AccountID]map[domain.AccountID]*uint256.Int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values:     make(map[domain.EntityID]*uint256.Int),
		states:     make(map[domain.EntityID]models.DecayState),
		allowances: make(map[domain.AccountID]map[domain.AccountID]*uint256.Int),
	}
}

// GetRaw returns the stored raw value, zero for unknown entities.
func (m *Memory) GetRaw(ctx context.Context, id domain.EntityID) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[id]; ok {
		return v.Clone(), nil
	}
	return uint256.NewInt(0), nil
}

// GetState returns the decay checkpoint, the zero state when unset.
func (m *Memory) GetState(ctx context.Context, id domain.EntityID) (models.DecayState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id], nil
}

// Apply writes all settlements under a single lock acquisition.
func (m *Memory) Apply(ctx context.Context, settlements ...models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range settlements {
		m.values[s.Entity] = s.Value.Clone()
		m.states[s.Entity] = s.State
	}
	return nil
}

// ApplyWithAllowance writes the settlements and the allowance update
// under a single lock acquisition.
func (m *Memory) ApplyWithAllowance(ctx context.Context, update models.AllowanceUpdate, settlements ...models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range settlements {
		m.values[s.Entity] = s.Value.Clone()
		m.states[s.Entity] = s.State
	}
	m.setAllowanceLocked(update.Owner, update.Spender, update.Remaining)
	return nil
}

// Append stores a new schedule entry.
func (m *Memory) Append(ctx context.Context, change models.RateChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = append(m.schedule, models.RateChange{Period: change.Period, Rate: change.Rate.Clone()})
	return nil
}

// List returns all schedule entries in insertion order.
func (m *Memory) List(ctx context.Context) ([]models.RateChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RateChange, len(m.schedule))
	copy(out, m.schedule)
	return out, nil
}

// Allowance returns the remaining approval, zero when unset.
func (m *Memory) Allowance(ctx context.Context, owner, spender domain.AccountID) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byOwner, ok := m.allowances[owner]; ok {
		if v, ok := byOwner[spender]; ok {
			return v.Clone(), nil
		}
	}
	return uint256.NewInt(0), nil
}

// SetAllowance overwrites the approval.
func (m *Memory) SetAllowance(ctx context.Context, owner, spender domain.AccountID, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowanceLocked(owner, spender, amount)
	return nil
}

func (m *Memory) setAllowanceLocked(owner, spender domain.AccountID, amount *uint256.Int) {
	byOwner, ok := m.allowances[owner]
	if !ok {
		byOwner = make(map[domain.AccountID]*uint256.Int)
		m.allowances[owner] = byOwner
	}
	byOwner[spender] = amount.Clone()
}
