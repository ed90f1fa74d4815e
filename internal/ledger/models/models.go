// Package models defines the data model shared by the demurrage engine,
// its stores and the ledger service.
package models

import (
	"time"

	"github.com/holiman/uint256"

	"demura/pkg/domain"
)

// RateChange is one entry of the rate schedule: from Period onwards the
// retention factor Rate (scaled fixed-point, see config.RateDecimals)
// applies per period. Entries are immutable once appended.
type RateChange struct {
	Period uint64
	Rate   *uint256.Int
}

// DecayState is the per-entity checkpoint: decay has been folded into the
// stored raw value through the end of OnPeriod, and evaluation resumes at
// schedule index OnChangeIndex.
type DecayState struct {
	OnPeriod      uint64
	OnChangeIndex int
}

// Settlement is a computed decay fold ready to be written back: the
// decayed value becomes the new raw value and State the new checkpoint.
type Settlement struct {
	Entity domain.EntityID
	Value  *uint256.Int
	State  DecayState
}

// AllowanceUpdate overwrites the remaining approval from Owner to
// Spender. It is written atomically with the settlements it pays for.
type AllowanceUpdate struct {
	Owner     domain.AccountID
	Spender   domain.AccountID
	Remaining *uint256.Int
}

// RateChangeScheduled is the event emitted when a future rate change is
// accepted into the schedule.
type RateChangeScheduled struct {
	ID          string    `json:"id"`
	EffectiveAt time.Time `json:"effective_at"`
	Period      uint64    `json:"period"`
	Rate        string    `json:"rate"`
}
