package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"demura/internal/events"
	"demura/internal/ledger/auth"
	"demura/internal/ledger/config"
	"demura/internal/ledger/models"
	"demura/internal/ledger/store"
	"demura/pkg/domain"
	dErrors "demura/pkg/domain-errors"
)

const (
	alice = domain.AccountID("alice")
	bob   = domain.AccountID("bob")
	carol = domain.AccountID("carol")
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	cfg       config.Config
	clock     *clockwork.FakeClock
	store     *store.Memory
	publisher *events.ChannelPublisher
	svc       *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.cfg = config.Default()
	s.clock = clockwork.NewFakeClockAt(s.cfg.Genesis)
	s.store = store.NewMemory()
	s.publisher = events.NewChannelPublisher()

	var err error
	s.svc, err = New(s.ctx, s.cfg, s.stores(),
		WithClock(s.clock),
		WithPublisher(s.publisher),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) stores() Stores {
	return Stores{Entries: s.store, Schedule: s.store, Allowances: s.store, Tx: s.store}
}

func (s *ServiceSuite) advancePeriods(n uint64) {
	s.clock.Advance(time.Duration(n) * s.cfg.PeriodDuration)
}

// amount returns n * 10^22, chosen so one fold by the default rate
// (0.9985, 25 decimals) divides exactly and assertions need no tolerance.
func amount(n uint64) *uint256.Int {
	exp := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(22))
	return new(uint256.Int).Mul(uint256.NewInt(n), exp)
}

func (s *ServiceSuite) balance(account domain.AccountID) *uint256.Int {
	v, err := s.svc.BalanceOf(s.ctx, account)
	s.Require().NoError(err)
	return v
}

func (s *ServiceSuite) TestBootstrapInitializesSchedule() {
	s.Equal(1, s.svc.ScheduleCount())

	entry, err := s.svc.RateChangeAt(0)
	s.Require().NoError(err)
	s.Equal(uint64(0), entry.Period)
	s.Equal(s.cfg.InitialRate.Dec(), entry.Rate.Dec())

	durable, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Len(durable, 1)
}

func (s *ServiceSuite) TestBootstrapReloadsExistingSchedule() {
	rate, _ := uint256.FromDecimal("9970000000000000000000000")
	_, err := s.svc.ScheduleChange(s.ctx, 3, rate)
	s.Require().NoError(err)

	reloaded, err := New(s.ctx, s.cfg, s.stores(), WithClock(s.clock))
	s.Require().NoError(err)
	s.Equal(2, reloaded.ScheduleCount())

	entry, err := reloaded.RateChangeAt(1)
	s.Require().NoError(err)
	s.Equal(uint64(3), entry.Period)
	s.Equal(rate.Dec(), entry.Rate.Dec())
}

func (s *ServiceSuite) TestMintCreditsAccountAndSupply() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(1000)))

	s.Equal(amount(1000).Dec(), s.balance(alice).Dec())

	supply, err := s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(1000).Dec(), supply.Dec())
}

func (s *ServiceSuite) TestTransferConservesSupply() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(1000)))
	s.Require().NoError(s.svc.Transfer(s.ctx, alice, bob, amount(400)))

	s.Equal(amount(600).Dec(), s.balance(alice).Dec())
	s.Equal(amount(400).Dec(), s.balance(bob).Dec())

	supply, err := s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(1000).Dec(), supply.Dec())
}

func (s *ServiceSuite) TestTransferValidation() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(100)))

	s.Run("insufficient balance", func() {
		err := s.svc.Transfer(s.ctx, alice, bob, amount(101))
		s.True(dErrors.Is(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("self transfer", func() {
		err := s.svc.Transfer(s.ctx, alice, alice, amount(1))
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("missing amount", func() {
		err := s.svc.Transfer(s.ctx, alice, bob, nil)
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("failed transfer leaves balances untouched", func() {
		s.Equal(amount(100).Dec(), s.balance(alice).Dec())
		s.Equal("0", s.balance(bob).Dec())
	})
}

func (s *ServiceSuite) TestApproveAndTransferFrom() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(1000)))
	s.Require().NoError(s.svc.Approve(s.ctx, alice, carol, amount(300)))

	allowance, err := s.svc.Allowance(s.ctx, alice, carol)
	s.Require().NoError(err)
	s.Equal(amount(300).Dec(), allowance.Dec())

	s.Require().NoError(s.svc.TransferFrom(s.ctx, carol, alice, bob, amount(200)))

	s.Equal(amount(800).Dec(), s.balance(alice).Dec())
	s.Equal(amount(200).Dec(), s.balance(bob).Dec())

	allowance, err = s.svc.Allowance(s.ctx, alice, carol)
	s.Require().NoError(err)
	s.Equal(amount(100).Dec(), allowance.Dec())

	err = s.svc.TransferFrom(s.ctx, carol, alice, bob, amount(200))
	s.True(dErrors.Is(err, dErrors.CodeInsufficientAllowance))
}

// brokenTx fails every combined write.
type brokenTx struct{}

func (brokenTx) ApplyWithAllowance(ctx context.Context, update models.AllowanceUpdate, settlements ...models.Settlement) error {
	return errors.New("write failed")
}

func (s *ServiceSuite) TestTransferFromFailedWriteLeavesNoPartialState() {
	svc, err := New(s.ctx, s.cfg,
		Stores{Entries: s.store, Schedule: s.store, Allowances: s.store, Tx: brokenTx{}},
		WithClock(s.clock),
	)
	s.Require().NoError(err)

	s.Require().NoError(svc.Mint(s.ctx, alice, amount(1000)))
	s.Require().NoError(svc.Approve(s.ctx, alice, carol, amount(1000)))

	err = svc.TransferFrom(s.ctx, carol, alice, bob, amount(400))
	s.Require().Error(err)

	balance, err := svc.BalanceOf(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(amount(1000).Dec(), balance.Dec())

	balance, err = svc.BalanceOf(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal("0", balance.Dec())

	allowance, err := svc.Allowance(s.ctx, alice, carol)
	s.Require().NoError(err)
	s.Equal(amount(1000).Dec(), allowance.Dec())
}

func (s *ServiceSuite) TestTransferFromCommitsBalancesAndAllowanceTogether() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(1000)))
	s.Require().NoError(s.svc.Approve(s.ctx, alice, carol, amount(500)))

	s.Require().NoError(s.svc.TransferFrom(s.ctx, carol, alice, bob, amount(500)))

	// The settlements and the decrement went through the single atomic
	// write on the store.
	raw, err := s.store.GetRaw(s.ctx, domain.EntityOf(bob))
	s.Require().NoError(err)
	s.Equal(amount(500).Dec(), raw.Dec())

	allowance, err := s.store.Allowance(s.ctx, alice, carol)
	s.Require().NoError(err)
	s.Equal("0", allowance.Dec())
}

func (s *ServiceSuite) TestBurnDebitsAccountAndSupply() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(1000)))
	s.Require().NoError(s.svc.Burn(s.ctx, alice, amount(250)))

	s.Equal(amount(750).Dec(), s.balance(alice).Dec())

	supply, err := s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(750).Dec(), supply.Dec())

	err = s.svc.Burn(s.ctx, alice, amount(751))
	s.True(dErrors.Is(err, dErrors.CodeInsufficientBalance))
}

func (s *ServiceSuite) TestMintBurnConserveSettledValuesAfterDecay() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))
	s.advancePeriods(1)

	// 10000 settles to 9985 before the mint lands on top of it.
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(500)))
	s.Equal(amount(10485).Dec(), s.balance(alice).Dec())

	supply, err := s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(10485).Dec(), supply.Dec())

	s.Require().NoError(s.svc.Burn(s.ctx, alice, amount(300)))
	s.Equal(amount(10185).Dec(), s.balance(alice).Dec())

	supply, err = s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(10185).Dec(), supply.Dec())
}

func (s *ServiceSuite) TestBalanceDecaysAcrossPeriods() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))
	s.advancePeriods(1)

	// 10000 * 0.9985 = 9985, exact at this precision.
	s.Equal(amount(9985).Dec(), s.balance(alice).Dec())

	supply, err := s.svc.TotalSupply(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(9985).Dec(), supply.Dec())
}

func (s *ServiceSuite) TestPersistBalanceDecayIsIdempotent() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))
	s.advancePeriods(1)

	first, err := s.svc.PersistBalanceDecay(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(amount(9985).Dec(), first.Dec())

	second, err := s.svc.PersistBalanceDecay(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(first.Dec(), second.Dec())

	raw, err := s.store.GetRaw(s.ctx, domain.EntityOf(alice))
	s.Require().NoError(err)
	s.Equal(amount(9985).Dec(), raw.Dec())
}

func (s *ServiceSuite) TestPersistAggregateDecay() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))
	s.advancePeriods(1)

	supply, err := s.svc.PersistAggregateDecay(s.ctx)
	s.Require().NoError(err)
	s.Equal(amount(9985).Dec(), supply.Dec())

	raw, err := s.store.GetRaw(s.ctx, domain.SupplyID)
	s.Require().NoError(err)
	s.Equal(amount(9985).Dec(), raw.Dec())
}

func (s *ServiceSuite) TestTransferSettlesDecayFirst() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))
	s.advancePeriods(1)

	// Alice holds 9985 after decay; the full decayed balance must move.
	s.Require().NoError(s.svc.Transfer(s.ctx, alice, bob, amount(9985)))

	s.Equal("0", s.balance(alice).Dec())
	s.Equal(amount(9985).Dec(), s.balance(bob).Dec())
}

func (s *ServiceSuite) TestScheduleChangeEmitsEvent() {
	rate, _ := uint256.FromDecimal("9970000000000000000000000")

	change, err := s.svc.ScheduleChange(s.ctx, 2, rate)
	s.Require().NoError(err)
	s.Equal(uint64(2), change.Period)
	s.Equal(2, s.svc.ScheduleCount())

	published := s.publisher.Events()
	s.Require().Len(published, 1)
	s.Equal(uint64(2), published[0].Period)
	s.Equal(rate.Dec(), published[0].Rate)
	s.True(published[0].EffectiveAt.Equal(s.svc.GetStartTimestamp(2)))
	s.NotEmpty(published[0].ID)
}

func (s *ServiceSuite) TestScheduleChangeRejectsPastAndDuplicatePeriods() {
	rate, _ := uint256.FromDecimal("9970000000000000000000000")
	_, err := s.svc.ScheduleChange(s.ctx, 2, rate)
	s.Require().NoError(err)

	s.Run("not strictly future", func() {
		_, err := s.svc.ScheduleChange(s.ctx, 0, rate)
		s.True(dErrors.Is(err, dErrors.CodeInvalidSchedule))
	})

	s.Run("not after last entry", func() {
		_, err := s.svc.ScheduleChange(s.ctx, 2, rate)
		s.True(dErrors.Is(err, dErrors.CodeInvalidSchedule))
	})

	s.Run("rejected change publishes nothing", func() {
		s.Len(s.publisher.Events(), 1)
	})
}

func (s *ServiceSuite) TestScheduledRateTakesEffect() {
	s.Require().NoError(s.svc.Mint(s.ctx, alice, amount(10000)))

	rate, _ := uint256.FromDecimal("9970000000000000000000000")
	_, err := s.svc.ScheduleChange(s.ctx, 1, rate)
	s.Require().NoError(err)

	s.advancePeriods(2)

	// One period at 0.9985 then one at 0.9970: 10000 -> 9985 -> 9955.045...
	got, err := s.svc.BalanceOf(s.ctx, alice)
	s.Require().NoError(err)

	expected := amount(10000)
	expected.Mul(expected, s.cfg.InitialRate)
	expected.Div(expected, s.cfg.Scale())
	expected.Mul(expected, rate)
	expected.Div(expected, s.cfg.Scale())
	s.Equal(expected.Dec(), got.Dec())
}

func (s *ServiceSuite) TestUnauthorizedPropagatesUnmodified() {
	svc, err := New(s.ctx, s.cfg, s.stores(),
		WithClock(s.clock),
		WithAuthorizer(auth.Deny{}),
	)
	s.Require().NoError(err)

	rate, _ := uint256.FromDecimal("9970000000000000000000000")

	s.Run("schedule change", func() {
		_, err := svc.ScheduleChange(s.ctx, 2, rate)
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
		s.Equal(1, svc.ScheduleCount())
	})

	s.Run("mint", func() {
		err := svc.Mint(s.ctx, alice, amount(1))
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})

	s.Run("burn", func() {
		err := svc.Burn(s.ctx, alice, amount(1))
		s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestPeriodAccessors() {
	s.Equal(uint64(0), s.svc.CurrentPeriod())
	s.advancePeriods(3)
	s.Equal(uint64(3), s.svc.CurrentPeriod())

	start := s.svc.GetStartTimestamp(3)
	s.Equal(uint64(3), s.svc.GetPeriod(start.Unix()))
	s.Equal(uint64(2), s.svc.GetPeriod(start.Unix()-1))
}

func (s *ServiceSuite) TestRateChangeAtOutOfRange() {
	_, err := s.svc.RateChangeAt(5)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
