// Package service implements the public ledger operations. Every balance
// read or read-modify-write settles outstanding decay first, so the
// surrounding bookkeeping always operates on decay-correct values.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"demura/internal/demurrage/accountant"
	"demura/internal/demurrage/period"
	"demura/internal/demurrage/schedule"
	"demura/internal/ledger/config"
	"demura/internal/ledger/metrics"
	"demura/internal/ledger/models"
	"demura/internal/ledger/ports"
	"demura/pkg/domain"
	dErrors "demura/pkg/domain-errors"
)

// allowAll is the default authorizer; production wires the JWT one.
type allowAll struct{}

func (allowAll) AuthorizeRateChange(ctx context.Context) error { return nil }

func (allowAll) AuthorizeSupplyChange(ctx context.Context) error { return nil }

// Stores groups the persistence collaborators the service requires.
type Stores struct {
	Entries    ports.EntryStore
	Schedule   ports.ScheduleStore
	Allowances ports.AllowanceStore
	Tx         ports.SettlementTx
}

// Service serializes all ledger mutations behind a single mutex (the
// host-side write serialization the decay engine assumes) while queries
// go straight to the stores.
type Service struct {
	cfg        config.Config
	periods    period.Converter
	scale      *uint256.Int
	schedule   *schedule.Schedule
	accountant *accountant.Accountant

	stores     Stores
	publisher  ports.RateChangePublisher
	authorizer ports.Authorizer
	cache      ports.BalanceCache

	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock
	tracer  trace.Tracer

	mu sync.Mutex
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p ports.RateChangePublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithAuthorizer(a ports.Authorizer) Option {
	return func(s *Service) { s.authorizer = a }
}

func WithCache(c ports.BalanceCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New constructs the service. The schedule is rebuilt from the schedule
// store; an empty store is initialized with the config's genesis rate,
// exactly once.
func New(ctx context.Context, cfg config.Config, stores Stores, opts ...Option) (*Service, error) {
	if stores.Entries == nil || stores.Schedule == nil || stores.Allowances == nil || stores.Tx == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "entry, schedule, allowance and tx stores are required")
	}

	svc := &Service{
		cfg:        cfg,
		scale:      cfg.Scale(),
		stores:     stores,
		authorizer: allowAll{},
		logger:     slog.Default(),
		clock:      clockwork.NewRealClock(),
		tracer:     otel.Tracer("demura/ledger"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := cfg.Validate(svc.clock.Now()); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "invalid ledger config")
	}

	var err error
	svc.periods, err = period.NewConverter(cfg.Genesis, cfg.PeriodDuration)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "invalid period configuration")
	}

	if err := svc.bootstrapSchedule(ctx); err != nil {
		return nil, err
	}

	svc.accountant = accountant.New(svc.schedule, svc.periods, svc.scale, stores.Entries, svc.clock)
	if svc.metrics != nil {
		svc.metrics.ScheduleSize.Set(float64(svc.schedule.Count()))
	}
	return svc, nil
}

func (s *Service) bootstrapSchedule(ctx context.Context) error {
	entries, err := s.stores.Schedule.List(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load schedule")
	}

	if len(entries) == 0 {
		genesisEntry := models.RateChange{Period: 0, Rate: s.cfg.InitialRate}
		if err := s.stores.Schedule.Append(ctx, genesisEntry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "initialize schedule")
		}
		s.schedule, err = schedule.New(s.cfg.InitialRate)
		return err
	}

	s.schedule, err = schedule.Load(entries)
	return err
}

// -----------------------------------------------------------------------------
// Read accessors
// -----------------------------------------------------------------------------

// GetPeriod returns the period containing the unix timestamp.
func (s *Service) GetPeriod(ts int64) uint64 {
	return s.periods.Of(ts)
}

// GetStartTimestamp returns the first instant of the period.
func (s *Service) GetStartTimestamp(p uint64) time.Time {
	return s.periods.StartTime(p)
}

// CurrentPeriod returns the period containing now.
func (s *Service) CurrentPeriod() uint64 {
	return s.periods.At(s.clock.Now())
}

// RateChangeAt returns the schedule entry at the index.
func (s *Service) RateChangeAt(index int) (models.RateChange, error) {
	return s.schedule.At(index)
}

// ScheduleCount returns the number of schedule entries.
func (s *Service) ScheduleCount() int {
	return s.schedule.Count()
}

// ScheduleSnapshot returns a copy of the full schedule.
func (s *Service) ScheduleSnapshot() []models.RateChange {
	return s.schedule.Snapshot()
}

// BalanceOf returns the decayed balance of the account as of now. The
// stored raw value and checkpoint are left untouched.
func (s *Service) BalanceOf(ctx context.Context, account domain.AccountID) (*uint256.Int, error) {
	if account.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "account is required")
	}

	nowPeriod := s.CurrentPeriod()
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, account, nowPeriod); err == nil && ok {
			if s.metrics != nil {
				s.metrics.BalanceCacheHits.Inc()
			}
			return v, nil
		}
		if s.metrics != nil {
			s.metrics.BalanceCacheMiss.Inc()
		}
	}

	value, err := s.accountant.Query(ctx, domain.EntityOf(account))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		ttl := s.periods.StartTime(nowPeriod + 1).Sub(s.clock.Now())
		if cacheErr := s.cache.Set(ctx, account, nowPeriod, value, ttl); cacheErr != nil {
			s.logger.WarnContext(ctx, "balance cache set failed", "account", account, "error", cacheErr)
		}
	}
	return value, nil
}

// TotalSupply returns the decayed aggregate supply as of now.
func (s *Service) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return s.accountant.Query(ctx, domain.SupplyID)
}

// Allowance returns the remaining approval from owner to spender.
func (s *Service) Allowance(ctx context.Context, owner, spender domain.AccountID) (*uint256.Int, error) {
	return s.stores.Allowances.Allowance(ctx, owner, spender)
}

// -----------------------------------------------------------------------------
// Maintenance accessors
// -----------------------------------------------------------------------------

// PersistBalanceDecay folds outstanding decay into the account's stored
// raw value. Callable by anyone; idempotent within a period.
func (s *Service) PersistBalanceDecay(ctx context.Context, account domain.AccountID) (*uint256.Int, error) {
	if account.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "account is required")
	}
	ctx, span := s.tracer.Start(ctx, "ledger.PersistBalanceDecay")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.accountant.Persist(ctx, domain.EntityOf(account))
	if err != nil {
		return nil, s.classified(ctx, err, "persist balance decay", "account", account)
	}
	s.invalidate(ctx, account)
	if s.metrics != nil {
		s.metrics.DecayPersists.WithLabelValues("account").Inc()
	}
	return value, nil
}

// PersistAggregateDecay folds outstanding decay into the stored supply.
func (s *Service) PersistAggregateDecay(ctx context.Context) (*uint256.Int, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.PersistAggregateDecay")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.accountant.Persist(ctx, domain.SupplyID)
	if err != nil {
		return nil, s.classified(ctx, err, "persist aggregate decay")
	}
	if s.metrics != nil {
		s.metrics.DecayPersists.WithLabelValues("supply").Inc()
	}
	return value, nil
}

// -----------------------------------------------------------------------------
// Schedule mutation
// -----------------------------------------------------------------------------

// ScheduleChange appends a future rate change. The change must lie
// strictly after both the current period and the last scheduled entry;
// on success a RateChangeScheduled event is emitted.
func (s *Service) ScheduleChange(ctx context.Context, changePeriod uint64, rate *uint256.Int) (models.RateChange, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ScheduleChange")
	defer span.End()

	if err := s.authorizer.AuthorizeRateChange(ctx); err != nil {
		// Authorization failures propagate unmodified; no mutation happened.
		return models.RateChange{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nowPeriod := s.CurrentPeriod()
	if err := s.schedule.Validate(nowPeriod, changePeriod, rate); err != nil {
		return models.RateChange{}, err
	}

	// Durable first: the in-memory schedule must never run ahead of the
	// store it is rebuilt from.
	change := models.RateChange{Period: changePeriod, Rate: rate}
	if err := s.stores.Schedule.Append(ctx, change); err != nil {
		return models.RateChange{}, dErrors.Wrap(err, dErrors.CodeInternal, "store schedule entry")
	}
	change, err := s.schedule.Append(nowPeriod, changePeriod, rate)
	if err != nil {
		return models.RateChange{}, err
	}

	if s.metrics != nil {
		s.metrics.ScheduleChanges.Inc()
		s.metrics.ScheduleSize.Set(float64(s.schedule.Count()))
	}

	event := models.RateChangeScheduled{
		ID:          uuid.NewString(),
		EffectiveAt: s.periods.StartTime(changePeriod),
		Period:      changePeriod,
		Rate:        rate.Dec(),
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			// Fail-open: the schedule entry is already durable.
			s.logger.WarnContext(ctx, "rate change event publish failed",
				"period", changePeriod, "error", err)
			if s.metrics != nil {
				s.metrics.PublishFailures.Inc()
			}
		}
	}

	s.logger.InfoContext(ctx, "rate change scheduled",
		"period", changePeriod,
		"effective_at", event.EffectiveAt,
		"rate", event.Rate,
	)
	return change, nil
}

// -----------------------------------------------------------------------------
// Ledger mutations
// -----------------------------------------------------------------------------

// Transfer moves amount from one account to another after settling decay
// on both.
func (s *Service) Transfer(ctx context.Context, from, to domain.AccountID, amount *uint256.Int) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Transfer")
	defer span.End()

	if err := validateMovement(from, to, amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transferLocked(ctx, from, to, amount); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Transfers.Inc()
	}
	return nil
}

// TransferFrom moves amount on behalf of the owner, consuming spender's
// allowance.
func (s *Service) TransferFrom(ctx context.Context, spender, from, to domain.AccountID, amount *uint256.Int) error {
	ctx, span := s.tracer.Start(ctx, "ledger.TransferFrom")
	defer span.End()

	if spender.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "spender is required")
	}
	if err := validateMovement(from, to, amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	allowance, err := s.stores.Allowances.Allowance(ctx, from, spender)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read allowance")
	}
	if allowance.Lt(amount) {
		return dErrors.Newf(dErrors.CodeInsufficientAllowance,
			"allowance %s is below %s", allowance.Dec(), amount.Dec())
	}

	sender, receiver, err := s.settleTransfer(ctx, from, to, amount)
	if err != nil {
		return err
	}

	// Balance movement and allowance decrement commit in one write.
	update := models.AllowanceUpdate{
		Owner:     from,
		Spender:   spender,
		Remaining: new(uint256.Int).Sub(allowance, amount),
	}
	if err := s.stores.Tx.ApplyWithAllowance(ctx, update, sender, receiver); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply transfer-from")
	}
	s.invalidate(ctx, from)
	s.invalidate(ctx, to)
	if s.metrics != nil {
		s.metrics.Transfers.Inc()
	}
	return nil
}

// Approve sets spender's allowance over owner's balance. Allowances are
// nominal and do not decay.
func (s *Service) Approve(ctx context.Context, owner, spender domain.AccountID, amount *uint256.Int) error {
	if owner.IsNil() || spender.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "owner and spender are required")
	}
	if amount == nil {
		return dErrors.New(dErrors.CodeBadRequest, "amount is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stores.Allowances.SetAllowance(ctx, owner, spender, amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "set allowance")
	}
	return nil
}

// Mint creates amount new units on the account and the aggregate supply,
// both settled first so decay never mingles with issuance.
func (s *Service) Mint(ctx context.Context, to domain.AccountID, amount *uint256.Int) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Mint")
	defer span.End()

	if err := s.authorizer.AuthorizeSupplyChange(ctx); err != nil {
		return err
	}
	if to.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "recipient is required")
	}
	if amount == nil {
		return dErrors.New(dErrors.CodeBadRequest, "amount is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.accountant.Settle(ctx, domain.EntityOf(to))
	if err != nil {
		return s.classified(ctx, err, "settle account", "account", to)
	}
	supply, err := s.accountant.Settle(ctx, domain.SupplyID)
	if err != nil {
		return s.classified(ctx, err, "settle supply")
	}

	if _, overflow := account.Value.AddOverflow(account.Value, amount); overflow {
		return dErrors.New(dErrors.CodeArithmeticOverflow, "account balance exceeds 256 bits")
	}
	if _, overflow := supply.Value.AddOverflow(supply.Value, amount); overflow {
		return dErrors.New(dErrors.CodeArithmeticOverflow, "aggregate supply exceeds 256 bits")
	}

	if err := s.stores.Entries.Apply(ctx, account, supply); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply mint")
	}
	s.invalidate(ctx, to)
	if s.metrics != nil {
		s.metrics.Mints.Inc()
	}
	s.logger.InfoContext(ctx, "minted", "account", to, "amount", amount.Dec())
	return nil
}

// Burn destroys amount units from the account and the aggregate supply.
func (s *Service) Burn(ctx context.Context, from domain.AccountID, amount *uint256.Int) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Burn")
	defer span.End()

	if err := s.authorizer.AuthorizeSupplyChange(ctx); err != nil {
		return err
	}
	if from.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "account is required")
	}
	if amount == nil {
		return dErrors.New(dErrors.CodeBadRequest, "amount is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.accountant.Settle(ctx, domain.EntityOf(from))
	if err != nil {
		return s.classified(ctx, err, "settle account", "account", from)
	}
	if account.Value.Lt(amount) {
		return dErrors.Newf(dErrors.CodeInsufficientBalance,
			"balance %s is below %s", account.Value.Dec(), amount.Dec())
	}
	supply, err := s.accountant.Settle(ctx, domain.SupplyID)
	if err != nil {
		return s.classified(ctx, err, "settle supply")
	}
	if supply.Value.Lt(amount) {
		return dErrors.New(dErrors.CodeInternal, "aggregate supply below account balance")
	}

	account.Value.Sub(account.Value, amount)
	supply.Value.Sub(supply.Value, amount)

	if err := s.stores.Entries.Apply(ctx, account, supply); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply burn")
	}
	s.invalidate(ctx, from)
	if s.metrics != nil {
		s.metrics.Burns.Inc()
	}
	s.logger.InfoContext(ctx, "burned", "account", from, "amount", amount.Dec())
	return nil
}

// transferLocked settles both parties, checks funds and applies the two
// settlements atomically. Caller holds s.mu.
func (s *Service) transferLocked(ctx context.Context, from, to domain.AccountID, amount *uint256.Int) error {
	sender, receiver, err := s.settleTransfer(ctx, from, to, amount)
	if err != nil {
		return err
	}
	if err := s.stores.Entries.Apply(ctx, sender, receiver); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "apply transfer")
	}
	s.invalidate(ctx, from)
	s.invalidate(ctx, to)
	return nil
}

// settleTransfer computes both parties' post-transfer settlements
// without writing anything. Caller holds s.mu.
func (s *Service) settleTransfer(ctx context.Context, from, to domain.AccountID, amount *uint256.Int) (models.Settlement, models.Settlement, error) {
	var none models.Settlement

	sender, err := s.accountant.Settle(ctx, domain.EntityOf(from))
	if err != nil {
		return none, none, s.classified(ctx, err, "settle sender", "account", from)
	}
	if sender.Value.Lt(amount) {
		return none, none, dErrors.Newf(dErrors.CodeInsufficientBalance,
			"balance %s is below %s", sender.Value.Dec(), amount.Dec())
	}
	receiver, err := s.accountant.Settle(ctx, domain.EntityOf(to))
	if err != nil {
		return none, none, s.classified(ctx, err, "settle receiver", "account", to)
	}

	sender.Value.Sub(sender.Value, amount)
	if _, overflow := receiver.Value.AddOverflow(receiver.Value, amount); overflow {
		return none, none, dErrors.New(dErrors.CodeArithmeticOverflow, "receiver balance exceeds 256 bits")
	}
	return sender, receiver, nil
}

func validateMovement(from, to domain.AccountID, amount *uint256.Int) error {
	if from.IsNil() || to.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "sender and receiver are required")
	}
	if from == to {
		return dErrors.New(dErrors.CodeBadRequest, "sender and receiver must differ")
	}
	if amount == nil {
		return dErrors.New(dErrors.CodeBadRequest, "amount is required")
	}
	return nil
}

// invalidate drops cached balances for the account; cache errors are
// logged, never surfaced.
func (s *Service) invalidate(ctx context.Context, account domain.AccountID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "balance cache invalidation failed", "account", account, "error", err)
	}
}

// classified logs the failure and counts overflow aborts.
func (s *Service) classified(ctx context.Context, err error, msg string, attrs ...any) error {
	if dErrors.Is(err, dErrors.CodeArithmeticOverflow) && s.metrics != nil {
		s.metrics.ArithmeticAborts.Inc()
	}
	s.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	return err
}
