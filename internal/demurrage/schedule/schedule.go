// Package schedule maintains the append-only sequence of scheduled rate
// changes. Once accepted, an entry can never be altered or removed; a
// rate can only be superseded by a strictly further-future entry. That
// monotonicity is the holders' core trust property.
package schedule

import (
	"sync"

	"github.com/holiman/uint256"

	"demura/internal/ledger/models"
	dErrors "demura/pkg/domain-errors"
)

// Schedule is the in-memory rate schedule. Entry 0 always has period 0
// (the regime in effect from genesis) and periods are strictly increasing.
// Reads may run concurrently with a single appender.
type Schedule struct {
	mu      sync.RWMutex
	changes []models.RateChange
}

// New creates a schedule with the genesis entry {period 0, initialRate}.
func New(initialRate *uint256.Int) (*Schedule, error) {
	if initialRate == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "initial rate is required")
	}
	return &Schedule{
		changes: []models.RateChange{{Period: 0, Rate: initialRate.Clone()}},
	}, nil
}

// Load rebuilds a schedule from durable entries, validating the ordering
// invariant.
func Load(changes []models.RateChange) (*Schedule, error) {
	if len(changes) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "schedule must contain the genesis entry")
	}
	if changes[0].Period != 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "first schedule entry must start at period 0")
	}
	out := make([]models.RateChange, len(changes))
	for i, c := range changes {
		if c.Rate == nil {
			return nil, dErrors.Newf(dErrors.CodeInternal, "schedule entry %d has no rate", i)
		}
		if i > 0 && c.Period <= changes[i-1].Period {
			return nil, dErrors.Newf(dErrors.CodeInternal, "schedule entry %d is not strictly increasing", i)
		}
		out[i] = models.RateChange{Period: c.Period, Rate: c.Rate.Clone()}
	}
	return &Schedule{changes: out}, nil
}

// Validate checks the append preconditions without mutating: the change
// must lie strictly in the future and strictly after the last scheduled
// entry.
func (s *Schedule) Validate(nowPeriod, changePeriod uint64, rate *uint256.Int) error {
	if rate == nil {
		return dErrors.New(dErrors.CodeBadRequest, "rate is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked(nowPeriod, changePeriod)
}

// Append accepts a new scheduled change after revalidating under the
// write lock. The caller is responsible for durably recording the entry
// before calling Append; a failed durable write must skip Append so the
// in-memory schedule never runs ahead of storage.
func (s *Schedule) Append(nowPeriod, changePeriod uint64, rate *uint256.Int) (models.RateChange, error) {
	if rate == nil {
		return models.RateChange{}, dErrors.New(dErrors.CodeBadRequest, "rate is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateLocked(nowPeriod, changePeriod); err != nil {
		return models.RateChange{}, err
	}
	change := models.RateChange{Period: changePeriod, Rate: rate.Clone()}
	s.changes = append(s.changes, change)
	return change, nil
}

func (s *Schedule) validateLocked(nowPeriod, changePeriod uint64) error {
	if changePeriod <= nowPeriod {
		return dErrors.Newf(dErrors.CodeInvalidSchedule,
			"change period %d is not strictly in the future (current period %d)", changePeriod, nowPeriod)
	}
	if last := s.changes[len(s.changes)-1]; changePeriod <= last.Period {
		return dErrors.Newf(dErrors.CodeInvalidSchedule,
			"change period %d is not after the last scheduled period %d", changePeriod, last.Period)
	}
	return nil
}

// At returns the entry at index i.
func (s *Schedule) At(i int) (models.RateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.changes) {
		return models.RateChange{}, dErrors.Newf(dErrors.CodeNotFound, "no schedule entry at index %d", i)
	}
	c := s.changes[i]
	return models.RateChange{Period: c.Period, Rate: c.Rate.Clone()}, nil
}

// Count returns the number of entries.
func (s *Schedule) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.changes)
}

// Snapshot returns a stable copy of the schedule for iteration. Rates are
// shared (immutable by convention); the slice is private to the caller.
func (s *Schedule) Snapshot() []models.RateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RateChange, len(s.changes))
	copy(out, s.changes)
	return out
}
