// Package ports defines shared interfaces for the ledger module.
// Interfaces are placed here when consumed by multiple packages to avoid
// duplication.
package ports

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"demura/internal/ledger/models"
	"demura/pkg/domain"
)

// EntryStore holds raw (undecayed) values and decay checkpoints per
// entity. Raw values are implementation-internal; they equal the public
// value only immediately after a settlement is applied.
type EntryStore interface {
	// GetRaw returns the stored raw value, zero if the entity is unknown.
	GetRaw(ctx context.Context, id domain.EntityID) (*uint256.Int, error)

	// GetState returns the decay checkpoint, the zero state if unset.
	GetState(ctx context.Context, id domain.EntityID) (models.DecayState, error)

	// Apply atomically writes the settlements' values and checkpoints.
	// Either all settlements are applied or none.
	Apply(ctx context.Context, settlements ...models.Settlement) error
}

// ScheduleStore durably records schedule entries so the in-memory
// schedule can be rebuilt at boot.
type ScheduleStore interface {
	// Append stores a new schedule entry.
	Append(ctx context.Context, change models.RateChange) error

	// List returns all entries ordered by period.
	List(ctx context.Context) ([]models.RateChange, error)
}

// AllowanceStore tracks spending approvals between accounts. Allowances
// are nominal amounts and do not decay.
type AllowanceStore interface {
	// Allowance returns the remaining approval, zero if unset.
	Allowance(ctx context.Context, owner, spender domain.AccountID) (*uint256.Int, error)

	// SetAllowance overwrites the approval.
	SetAllowance(ctx context.Context, owner, spender domain.AccountID, amount *uint256.Int) error
}

// SettlementTx applies balance settlements together with an allowance
// update in one atomic write. TransferFrom relies on it: the balance
// movement and the allowance decrement land together or not at all.
type SettlementTx interface {
	ApplyWithAllowance(ctx context.Context, update models.AllowanceUpdate, settlements ...models.Settlement) error
}

// RateChangePublisher emits schedule change events to interested parties.
type RateChangePublisher interface {
	Publish(ctx context.Context, event models.RateChangeScheduled) error
}

// Authorizer gates privileged mutations. Implementations return an
// unauthorized domain error which the service propagates unmodified.
type Authorizer interface {
	// AuthorizeRateChange permits scheduling a future rate change.
	AuthorizeRateChange(ctx context.Context) error

	// AuthorizeSupplyChange permits mint and burn operations.
	AuthorizeSupplyChange(ctx context.Context) error
}

// BalanceCache caches decayed balances within a period. Entries must be
// invalidated whenever the account's raw value changes.
type BalanceCache interface {
	Get(ctx context.Context, account domain.AccountID, period uint64) (*uint256.Int, bool, error)
	Set(ctx context.Context, account domain.AccountID, period uint64, value *uint256.Int, ttl time.Duration) error
	Invalidate(ctx context.Context, account domain.AccountID) error
}
