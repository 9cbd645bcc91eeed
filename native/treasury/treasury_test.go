package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revledger/core/events"
	"revledger/native/distribution"
	"revledger/native/escrow"
	"revledger/native/splitter"
)

const ether = 1_000_000_000_000_000_000

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	protocolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	creatorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	managerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f3")
)

func account(n int) common.Address {
	return common.BigToAddress(uint256.NewInt(uint64(n)).ToBig())
}

type testPayer struct {
	mu   sync.Mutex
	paid map[common.Address]*uint256.Int
	fail map[common.Address]error
}

func newTestPayer() *testPayer {
	return &testPayer{paid: make(map[common.Address]*uint256.Int), fail: make(map[common.Address]error)}
}

func (p *testPayer) Pay(_ context.Context, payout distribution.Payout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[payout.Recipient]; err != nil {
		return err
	}
	total, ok := p.paid[payout.Recipient]
	if !ok {
		total = new(uint256.Int)
	}
	p.paid[payout.Recipient] = new(uint256.Int).Add(total, payout.Amount)
	return nil
}

type testEnv struct {
	deps     Deps
	payer    *testPayer
	escrow   *escrow.MemEscrow
	recorder *events.Recorder
	now      time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		payer:    newTestPayer(),
		escrow:   escrow.NewMemEscrow(),
		recorder: &events.Recorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	env.deps = Deps{
		Escrow:  env.escrow,
		Payer:   env.payer,
		Emitter: env.recorder,
		Now:     func() time.Time { return env.now },
	}
	return env
}

func etherAmount(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(ether))
}

func TestStakingProtocolFeeQuarter(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Asset:      "NHB",
		MaxPercent: splitter.MaxPercent2dp,
		Protocol:   ShareConfig{Recipient: protocolAddr.Hex(), Percent: 25_00},
		Creator:    ShareConfig{Recipient: creatorAddr.Hex()},
	}))
	staker := account(1)
	require.NoError(t, m.Stake(staker, uint256.NewInt(1_000)))

	breakdown, err := m.Receive(context.Background(), etherAmount(10))
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", breakdown.Amount(splitter.KindProtocol).Dec())
	assert.Equal(t, "7500000000000000000", breakdown.Pool.Dec())

	paid, err := m.Claim(context.Background(), staker)
	require.NoError(t, err)
	assert.Equal(t, "7500000000000000000", paid.Dec())

	fee, err := m.ClaimFixed(context.Background(), protocolAddr)
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", fee.Dec())
}

func TestRevenueFiveRecipientScenario(t *testing.T) {
	env := newTestEnv()
	m := NewRevenueManager("revenue", env.deps)
	recipients := []RecipientConfig{
		{Address: account(1).Hex(), Percent: 30_00},
		{Address: account(2).Hex(), Percent: 25_00},
		{Address: account(3).Hex(), Percent: 20_00},
		{Address: account(4).Hex(), Percent: 15_00},
		{Address: account(5).Hex(), Percent: 10_00},
	}
	require.NoError(t, m.Initialize(ownerAddr, Config{MaxPercent: splitter.MaxPercent2dp, Recipients: recipients}))
	ctx := context.Background()

	_, err := m.Receive(ctx, etherAmount(10))
	require.NoError(t, err)
	first, err := m.Claim(ctx, account(1))
	require.NoError(t, err)
	assert.Equal(t, etherAmount(3).Dec(), first.Dec())
	second, err := m.Claim(ctx, account(2))
	require.NoError(t, err)
	assert.Equal(t, "2500000000000000000", second.Dec())

	_, err = m.Receive(ctx, etherAmount(10))
	require.NoError(t, err)
	third, err := m.Claim(ctx, account(3))
	require.NoError(t, err)
	assert.Equal(t, etherAmount(4).Dec(), third.Dec())
	fourth, err := m.Claim(ctx, account(4))
	require.NoError(t, err)
	assert.Equal(t, etherAmount(3).Dec(), fourth.Dec())
	again, err := m.Claim(ctx, account(1))
	require.NoError(t, err)
	assert.Equal(t, etherAmount(3).Dec(), again.Dec())

	assert.Len(t, env.recorder.OfType(events.TypeClaimExecuted), 5)
}

func TestRevenueUpdateSharesSettlesFirst(t *testing.T) {
	env := newTestEnv()
	m := NewRevenueManager("revenue", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{Recipients: []RecipientConfig{
		{Address: account(1).Hex(), Percent: 50_00},
		{Address: account(2).Hex(), Percent: 50_00},
	}}))
	ctx := context.Background()
	_, err := m.Receive(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)

	err = m.UpdateShares(account(1), []splitter.Allocation{{Recipient: account(1), Percent: 100_00}})
	require.ErrorIs(t, err, distribution.ErrNotOwner)
	err = m.UpdateShares(ownerAddr, []splitter.Allocation{{Recipient: account(1), Percent: 90_00}})
	require.ErrorIs(t, err, splitter.ErrInvalidShareTotal)
	require.NoError(t, m.UpdateShares(ownerAddr, []splitter.Allocation{{Recipient: account(1), Percent: 100_00}}))

	_, err = m.Receive(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)
	results, err := m.ClaimAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(15_000), results[0].Amount.Uint64())
	removed, err := m.Claim(ctx, account(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), removed.Uint64())
	assert.NotEmpty(t, env.recorder.OfType(events.TypeSharesUpdated))
}

func TestStakingFallbackAndCreatorRotation(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Protocol: ShareConfig{Recipient: protocolAddr.Hex(), Percent: 10_00},
		Creator:  ShareConfig{Recipient: creatorAddr.Hex(), Percent: 20_00},
	}))
	ctx := context.Background()
	breakdown, err := m.Receive(ctx, uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), breakdown.Amount(splitter.KindProtocol).Uint64())
	assert.Equal(t, uint64(18), breakdown.Amount(splitter.KindCreator).Uint64())
	assert.Equal(t, uint64(72), breakdown.Pool.Uint64())

	creator, ok := m.Source().FixedAccount(creatorAddr)
	require.True(t, ok)
	assert.Equal(t, uint64(90), creator.Owed.Uint64(), "creator receives its cut plus the unstaked pool")
	assert.Len(t, env.recorder.OfType(events.TypeInflowFallback), 1)

	next := account(9)
	require.ErrorIs(t, m.SetCreator(account(1), next), distribution.ErrNotOwner)
	require.NoError(t, m.SetCreator(ownerAddr, next))
	assert.Equal(t, next, m.Creator())
	_, err = m.Receive(ctx, uint256.NewInt(100))
	require.NoError(t, err)
	old, _ := m.Source().FixedAccount(creatorAddr)
	assert.Equal(t, uint64(90), old.Owed.Uint64())
	fresh, _ := m.Source().FixedAccount(next)
	assert.Equal(t, uint64(90), fresh.Owed.Uint64())
}

func TestStakingTimelockAndTransfer(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Creator:          ShareConfig{Recipient: creatorAddr.Hex()},
		MinStakeDuration: Duration{Duration: time.Hour},
	}))
	ctx := context.Background()
	alice, bob := account(1), account(2)
	require.NoError(t, m.Stake(alice, uint256.NewInt(10)))
	require.ErrorIs(t, m.Unstake(alice, uint256.NewInt(1)), distribution.ErrStakeLocked)

	_, err := m.Receive(ctx, uint256.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, m.TransferStake(alice, bob))
	stake, err := m.StakeOf(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stake.Uint64())

	paid, err := m.Claim(ctx, alice)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "sender keeps nothing after a transfer")
	paid, err = m.Claim(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), paid.Uint64())

	require.ErrorIs(t, m.Unstake(bob, uint256.NewInt(11)), distribution.ErrInsufficientBalance)
	env.now = env.now.Add(2 * time.Hour)
	require.NoError(t, m.Unstake(bob, uint256.NewInt(10)))
	assert.True(t, m.Source().TotalWeight().IsZero())
}

func TestStakingSyncPullsEscrow(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Address: managerAddr.Hex(),
		Creator: ShareConfig{Recipient: creatorAddr.Hex()},
	}))
	require.NoError(t, m.Stake(account(1), uint256.NewInt(1)))
	require.NoError(t, env.escrow.Credit(managerAddr, uint256.NewInt(77)))

	paid, err := m.Claim(context.Background(), account(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(77), paid.Uint64(), "claims pull escrowed revenue first")

	env.escrow.FailNextWithdrawal(errors.New("escrow paused"))
	_, err = m.Sync(context.Background())
	require.Error(t, err)
}

func TestClaimFailureRestoresCarry(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{Creator: ShareConfig{Recipient: creatorAddr.Hex()}}))
	ctx := context.Background()
	require.NoError(t, m.Stake(account(1), uint256.NewInt(1)))
	_, err := m.Receive(ctx, uint256.NewInt(40))
	require.NoError(t, err)

	env.payer.fail[account(1)] = errors.New("recipient rejects transfers")
	_, err = m.Claim(ctx, account(1))
	require.ErrorIs(t, err, distribution.ErrUnableToSendRevenue)
	claimable, err := m.Source().Claimable(distribution.AddressHolder(account(1)))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), claimable.Uint64())
}

func TestOwnerManagerTokenAccrualFollowsTransfers(t *testing.T) {
	env := newTestEnv()
	m := NewOwnerManager("owners", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{Creator: ShareConfig{Recipient: creatorAddr.Hex()}}))
	ctx := context.Background()
	alice, bob := account(1), account(2)
	one, two := uint256.NewInt(1), uint256.NewInt(2)

	require.ErrorIs(t, m.Mint(alice, one, alice, nil), distribution.ErrNotOwner)
	require.NoError(t, m.Mint(ownerAddr, one, alice, nil))
	require.NoError(t, m.Mint(ownerAddr, two, alice, nil))
	_, err := m.Receive(ctx, uint256.NewInt(100))
	require.NoError(t, err)

	require.ErrorIs(t, m.OnTransfer(two, bob, alice), distribution.ErrNotOwner)
	require.NoError(t, m.OnTransfer(two, alice, bob))
	owner, ok := m.OwnerOf(two)
	require.True(t, ok)
	assert.Equal(t, bob, owner)

	_, err = m.ClaimTokens(ctx, alice, []*uint256.Int{one, two})
	require.ErrorIs(t, err, distribution.ErrNotOwner)

	results, err := m.ClaimTokens(ctx, alice, []*uint256.Int{one, one})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(50), results[0].Amount.Uint64())
	assert.True(t, results[1].Duplicate)

	results, err = m.ClaimTokens(ctx, bob, []*uint256.Int{two})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), distribution.Total(results).Uint64(), "unclaimed accrual moves with the token")

	_, err = m.Receive(ctx, uint256.NewInt(10))
	require.NoError(t, err)
	burned, err := m.Burn(ctx, bob, two)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), burned.Uint64())
	_, ok = m.OwnerOf(two)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Source().TotalWeight().Uint64())
}

func TestPositionManagerAttributesGrowth(t *testing.T) {
	env := newTestEnv()
	pool := common.HexToHash("0xabc")
	require.NoError(t, env.escrow.RegisterPool(pool, managerAddr))
	require.NoError(t, env.escrow.Allocate(pool, uint256.NewInt(50)))

	positionOwner, next := account(1), account(2)
	m := NewPositionManager("positions", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Address:  managerAddr.Hex(),
		Protocol: ShareConfig{Recipient: protocolAddr.Hex(), Percent: 10_00},
		Pools:    []PoolConfig{{ID: pool.Hex(), Owner: positionOwner.Hex()}},
	}))
	ctx := context.Background()

	require.NoError(t, env.escrow.Allocate(pool, uint256.NewInt(100)))
	attributed, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), attributed.Uint64(), "fees before registration are not attributed")
	assert.Equal(t, uint64(150), m.Withdrawn().Uint64())

	require.ErrorIs(t, m.ReassignPool(ctx, next, pool, next), distribution.ErrNotOwner)
	require.NoError(t, m.ReassignPool(ctx, positionOwner, pool, next))
	require.NoError(t, env.escrow.Allocate(pool, uint256.NewInt(200)))

	paid, err := m.ClaimPosition(ctx, positionOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), paid.Uint64())
	paid, err = m.ClaimPosition(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(180), paid.Uint64())
	fee, err := m.ClaimFixed(ctx, protocolAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), fee.Uint64())

	err = m.RegisterPool(ctx, ownerAddr, common.HexToHash("0xdead"), next)
	require.ErrorIs(t, err, escrow.ErrPoolNotFound)
}

func TestFactoryDeploy(t *testing.T) {
	env := newTestEnv()
	factory := NewFactory(env.deps)
	yamlConfig := []byte(`
asset: nhb
max_percent: 10000
protocol:
  recipient: "` + protocolAddr.Hex() + `"
  percent: 500
recipients:
  - address: "` + account(1).Hex() + `"
    percent: 10000
`)
	manager, err := factory.Deploy("rev", KindRevenue, ownerAddr, yamlConfig)
	require.NoError(t, err)
	assert.Equal(t, KindRevenue, manager.Kind())
	assert.Equal(t, "NHB", manager.Summary().Asset)

	jsonConfig := []byte(fmt.Sprintf(`{"creator": {"recipient": %q, "percent": 100}, "min_stake_duration": "24h"}`, creatorAddr.Hex()))
	staking, err := factory.Deploy("stake", KindStaking, ownerAddr, jsonConfig)
	require.NoError(t, err)
	assert.True(t, staking.Initialized())

	_, err = factory.Deploy("rev", KindRevenue, ownerAddr, yamlConfig)
	require.ErrorIs(t, err, ErrManagerExists)
	_, err = factory.Deploy("bad", Kind("vault"), ownerAddr, nil)
	require.ErrorIs(t, err, ErrUnknownKind)
	_, err = factory.Deploy("fee", KindRevenue, ownerAddr, []byte("protocol: {recipient: \""+protocolAddr.Hex()+"\", percent: 10001}\nrecipients: [{address: \""+account(1).Hex()+"\", percent: 10000}]"))
	require.ErrorIs(t, err, splitter.ErrInvalidProtocolFee)
	_, err = factory.Deploy("typo", KindRevenue, ownerAddr, []byte("recipientz: []"))
	require.Error(t, err)
	_, err = factory.Deploy("nocreator", KindStaking, ownerAddr, nil)
	require.ErrorIs(t, err, splitter.ErrInvalidCreatorAddress)

	list := factory.List()
	require.Len(t, list, 2)
	assert.Equal(t, "rev", list[0].ID())
	_, err = factory.Get("missing")
	require.ErrorIs(t, err, ErrManagerNotFound)
}

func TestInitializationGuards(t *testing.T) {
	env := newTestEnv()
	m := NewRevenueManager("guarded", env.deps)
	_, err := m.Receive(context.Background(), uint256.NewInt(1))
	require.ErrorIs(t, err, distribution.ErrNotInitialized)
	cfg := Config{MaxPercent: splitter.MaxPercent5dp, Recipients: []RecipientConfig{{Address: account(1).Hex(), Percent: 100_00000}}}
	require.NoError(t, m.Initialize(ownerAddr, cfg))
	require.ErrorIs(t, m.Initialize(ownerAddr, cfg), distribution.ErrAlreadyInitialized)
	require.NoError(t, m.TransferOwnership(ownerAddr, account(7)))
	assert.Equal(t, account(7), m.Owner())
}

type cancellingEscrow struct {
	escrow.Escrow
	cancel context.CancelFunc
}

func (e cancellingEscrow) WithdrawFees(ctx context.Context, recipient common.Address, unwrap bool) (*uint256.Int, error) {
	amount, err := e.Escrow.WithdrawFees(ctx, recipient, unwrap)
	e.cancel()
	return amount, err
}

type switchableStore struct {
	mu  sync.Mutex
	err error
}

func (s *switchableStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *switchableStore) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *switchableStore) PutState(*distribution.State) error { return s.check() }

func (s *switchableStore) PutHolder(string, *distribution.Holder) error { return s.check() }

func (s *switchableStore) PutFixed(string, *distribution.FixedAccount) error { return s.check() }

func (s *switchableStore) LoadSnapshot(string) (*distribution.Snapshot, bool, error) {
	return nil, false, nil
}

func TestInitializeAppliesConfigDefaults(t *testing.T) {
	env := newTestEnv()
	m := NewRevenueManager("revenue", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{Asset: " nhb ", Recipients: []RecipientConfig{
		{Address: account(1).Hex(), Percent: 100_00},
	}}))
	assert.Equal(t, "NHB", m.Summary().Asset)
	_, err := m.Receive(context.Background(), uint256.NewInt(100))
	require.NoError(t, err)

	staking := NewStakingManager("staking", env.deps)
	require.NoError(t, staking.Initialize(ownerAddr, Config{
		Protocol: ShareConfig{Recipient: protocolAddr.Hex(), Percent: 50_00},
		Creator:  ShareConfig{Recipient: creatorAddr.Hex()},
	}))
	assert.Equal(t, "NATIVE", staking.Summary().Asset)
	breakdown, err := staking.Receive(context.Background(), uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), breakdown.Amount(splitter.KindProtocol).Uint64())
}

func TestSyncCreditsWithdrawnFeesAfterCancellation(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.deps.Escrow = cancellingEscrow{Escrow: env.escrow, cancel: cancel}
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Address: managerAddr.Hex(),
		Creator: ShareConfig{Recipient: creatorAddr.Hex()},
	}))
	staker := account(1)
	require.NoError(t, m.Stake(staker, uint256.NewInt(1)))
	require.NoError(t, env.escrow.Credit(managerAddr, uint256.NewInt(1_000)))

	pulled, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), pulled.Uint64())
	require.Error(t, ctx.Err())
	assert.True(t, env.escrow.Pending(managerAddr).IsZero())
	assert.Equal(t, uint64(1_000), m.Source().State().Received.Uint64())
	claimable, err := m.Source().Claimable(distribution.AddressHolder(staker))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), claimable.Uint64())
}

func TestSyncRetriesUndistributedFees(t *testing.T) {
	env := newTestEnv()
	store := &switchableStore{}
	env.deps.Store = store
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{
		Address: managerAddr.Hex(),
		Creator: ShareConfig{Recipient: creatorAddr.Hex()},
	}))
	staker := account(1)
	require.NoError(t, m.Stake(staker, uint256.NewInt(1)))
	require.NoError(t, env.escrow.Credit(managerAddr, uint256.NewInt(600)))

	store.fail(errors.New("disk full"))
	_, err := m.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, env.escrow.Pending(managerAddr).IsZero(), "fees left escrow")
	assert.Equal(t, uint64(600), m.Undistributed().Uint64())

	store.fail(nil)
	require.NoError(t, env.escrow.Credit(managerAddr, uint256.NewInt(400)))
	pulled, err := m.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), pulled.Uint64())
	assert.True(t, m.Undistributed().IsZero())
	claimable, err := m.Source().Claimable(distribution.AddressHolder(staker))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), claimable.Uint64())
}

func TestRevenueUpdateSharesRejectedDuringPayout(t *testing.T) {
	env := newTestEnv()
	started, release := make(chan struct{}), make(chan struct{})
	env.deps.Payer = distribution.PayerFunc(func(ctx context.Context, payout distribution.Payout) error {
		if payout.Recipient == account(2) {
			close(started)
			<-release
		}
		return nil
	})
	m := NewRevenueManager("revenue", env.deps)
	initial := []splitter.Allocation{
		{Recipient: account(1), Percent: 50_00},
		{Recipient: account(2), Percent: 50_00},
	}
	require.NoError(t, m.Initialize(ownerAddr, Config{Recipients: []RecipientConfig{
		{Address: account(1).Hex(), Percent: 50_00},
		{Address: account(2).Hex(), Percent: 50_00},
	}}))
	ctx := context.Background()
	_, err := m.Receive(ctx, uint256.NewInt(10_000))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Claim(ctx, account(2))
		done <- err
	}()
	<-started
	err = m.UpdateShares(ownerAddr, []splitter.Allocation{
		{Recipient: account(3), Percent: 50_00},
		{Recipient: account(2), Percent: 50_00},
	})
	require.ErrorIs(t, err, distribution.ErrClaimInProgress)
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, initial, m.Recipients())
	first, ok := m.Source().Holder(distribution.AddressHolder(account(1)))
	require.True(t, ok)
	assert.Equal(t, uint64(50_00), first.Weight.Uint64())
	_, ok = m.Source().Holder(distribution.AddressHolder(account(3)))
	assert.False(t, ok)
	assert.Equal(t, uint64(100_00), m.Source().TotalWeight().Uint64())
}

func TestConcurrentFirstStakes(t *testing.T) {
	env := newTestEnv()
	m := NewStakingManager("staking", env.deps)
	require.NoError(t, m.Initialize(ownerAddr, Config{Creator: ShareConfig{Recipient: creatorAddr.Hex()}}))
	staker := account(1)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Stake(staker, uint256.NewInt(5))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	stake, err := m.StakeOf(staker)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), stake.Uint64())
	assert.Len(t, env.recorder.OfType(events.TypeStakeJoined), 1)
}

func TestRevenueInitializeFailureLeavesManagerUninitialized(t *testing.T) {
	env := newTestEnv()
	store := &switchableStore{}
	env.deps.Store = store
	m := NewRevenueManager("revenue", env.deps)
	cfg := Config{Recipients: []RecipientConfig{
		{Address: account(1).Hex(), Percent: 60_00},
		{Address: account(2).Hex(), Percent: 40_00},
	}}

	store.fail(errors.New("disk full"))
	require.Error(t, m.Initialize(ownerAddr, cfg))
	assert.False(t, m.Initialized())
	assert.Empty(t, m.Recipients())
	_, err := m.Receive(context.Background(), uint256.NewInt(1))
	require.ErrorIs(t, err, distribution.ErrNotInitialized)

	store.fail(nil)
	require.NoError(t, m.Initialize(ownerAddr, cfg))
	assert.True(t, m.Initialized())
	assert.Equal(t, uint64(100_00), m.Source().TotalWeight().Uint64())
}
