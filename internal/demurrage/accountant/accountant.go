// Package accountant folds scheduled decay into stored raw values. All
// computation is lazy: an entity's balance is only brought up to date when
// it is touched, against its own checkpoint, so no per-period sweep over
// accounts ever runs.
package accountant

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"demura/internal/demurrage/fixedpoint"
	"demura/internal/demurrage/period"
	"demura/internal/demurrage/schedule"
	"demura/internal/ledger/models"
	"demura/internal/ledger/ports"
	"demura/pkg/domain"
	dErrors "demura/pkg/domain-errors"
)

// Accountant computes exact decayed values against the rate schedule and
// settles them into the entry store. It holds no mutable state of its own;
// serialization of mutations is the caller's responsibility.
type Accountant struct {
	schedule *schedule.Schedule
	periods  period.Converter
	scale    *uint256.Int
	entries  ports.EntryStore
	clock    clockwork.Clock
}

// New constructs an accountant. scale is 10^rateDecimals, the fixed-point
// denominator shared with the schedule's rates.
func New(sched *schedule.Schedule, periods period.Converter, scale *uint256.Int, entries ports.EntryStore, clock clockwork.Clock) *Accountant {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Accountant{
		schedule: sched,
		periods:  periods,
		scale:    scale,
		entries:  entries,
		clock:    clock,
	}
}

// NowPeriod returns the period containing the injected clock's now.
func (a *Accountant) NowPeriod() uint64 {
	return a.periods.At(a.clock.Now())
}

// ComputeDecayed applies decay to value from the checkpoint up to
// nowPeriod, walking rate regimes in order. It returns the decayed value
// and the advanced checkpoint; on any error nothing is written anywhere.
//
// Each regime i covers the half-open span [startPeriod, endPeriod): a
// regime is closed out at the next entry's period when that entry lies
// strictly before nowPeriod, otherwise it is the final regime and runs to
// nowPeriod. With nowPeriod == state.OnPeriod the fold applies zero
// periods and returns the input unchanged.
func (a *Accountant) ComputeDecayed(value *uint256.Int, state models.DecayState, nowPeriod uint64) (*uint256.Int, models.DecayState, error) {
	if value == nil {
		return nil, models.DecayState{}, dErrors.New(dErrors.CodeBadRequest, "value is required")
	}
	if nowPeriod < state.OnPeriod {
		return nil, models.DecayState{}, dErrors.Newf(dErrors.CodeInternal,
			"checkpoint period %d is ahead of now period %d", state.OnPeriod, nowPeriod)
	}

	changes := a.schedule.Snapshot()
	i := state.OnChangeIndex
	if i < 0 || i >= len(changes) {
		return nil, models.DecayState{}, dErrors.Newf(dErrors.CodeInternal,
			"checkpoint index %d outside schedule of %d entries", i, len(changes))
	}

	v := value.Clone()
	start := state.OnPeriod
	for {
		end := nowPeriod
		closedOut := i+1 < len(changes) && changes[i+1].Period < nowPeriod
		if closedOut {
			end = changes[i+1].Period
		}

		if end > start {
			factor, err := fixedpoint.Pow(changes[i].Rate, end-start, a.scale)
			if err != nil {
				return nil, models.DecayState{}, err
			}
			if v, err = fixedpoint.MulDiv(v, factor, a.scale); err != nil {
				return nil, models.DecayState{}, err
			}
		}

		if !closedOut {
			return v, models.DecayState{OnPeriod: end, OnChangeIndex: i}, nil
		}
		start = end
		i++
	}
}

// Settle reads the entity's raw value and checkpoint and computes its
// decay fold as of now. The result is not written back; pair with the
// store's Apply once every settlement in the operation has computed
// successfully, so a failure leaves no partial writes.
func (a *Accountant) Settle(ctx context.Context, id domain.EntityID) (models.Settlement, error) {
	raw, err := a.entries.GetRaw(ctx, id)
	if err != nil {
		return models.Settlement{}, dErrors.Wrap(err, dErrors.CodeInternal, "read raw value")
	}
	state, err := a.entries.GetState(ctx, id)
	if err != nil {
		return models.Settlement{}, dErrors.Wrap(err, dErrors.CodeInternal, "read decay state")
	}

	value, newState, err := a.ComputeDecayed(raw, state, a.NowPeriod())
	if err != nil {
		return models.Settlement{}, err
	}
	return models.Settlement{Entity: id, Value: value, State: newState}, nil
}

// Persist settles the entity and writes the result back: the decayed
// value becomes the new raw value and the checkpoint advances. Calling it
// twice within the same period is a no-op the second time.
func (a *Accountant) Persist(ctx context.Context, id domain.EntityID) (*uint256.Int, error) {
	settlement, err := a.Settle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.entries.Apply(ctx, settlement); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "apply settlement")
	}
	return settlement.Value, nil
}

// Query returns the decayed value as of now without writing anything
// back. Used for pure reads.
func (a *Accountant) Query(ctx context.Context, id domain.EntityID) (*uint256.Int, error) {
	settlement, err := a.Settle(ctx, id)
	if err != nil {
		return nil, err
	}
	return settlement.Value, nil
}
