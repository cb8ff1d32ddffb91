package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/repository"
)

const testFunding = 10_000_000_000

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ledger *ledger.Memory
	repo   *repository.MemoryVaultRepository
	clock  *testClock
	engine *Engine
}

// newTestEnv создает движок поверх реестра в памяти. rate - ставка аренды за байт-год.
func newTestEnv(t *testing.T, rate uint64, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: ledger.NewMemory(
			ledger.WithLamportsPerByteYear(rate),
			ledger.WithTransferHook(policy.DefaultProgramID, policy.NewGuard()),
		),
		repo:  repository.NewMemoryVaultRepository(),
		clock: newTestClock(),
	}
	opts = append([]Option{WithClock(env.clock.Now)}, opts...)
	env.engine = New(env.ledger, env.repo, opts...)
	return env
}

func newAddress(t *testing.T) ledger.Address {
	t.Helper()
	addr, err := ledger.NewAddress()
	require.NoError(t, err)
	return addr
}

// newFundedUser создает адрес с балансом testFunding.
func (env *testEnv) newFundedUser(t *testing.T) ledger.Address {
	t.Helper()
	addr := newAddress(t)
	require.NoError(t, env.ledger.Airdrop(context.Background(), addr, testFunding))
	return addr
}

// newMint создает минт Token-2022 с хуком, управляемый адресом эскроу владельца.
func (env *testEnv) newMint(t *testing.T, owner ledger.Address, program ledger.Address) ledger.Address {
	t.Helper()
	escrow, _, err := EscrowAddress(env.engine.ProgramID(), owner)
	require.NoError(t, err)

	mint := newAddress(t)
	tx, err := env.ledger.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateMint(ledger.UserSigner(owner), mint, escrow, 9, program, policy.DefaultProgramID))
	require.NoError(t, tx.Commit())
	return mint
}

func (env *testEnv) initialize(
	t *testing.T,
	owner ledger.Address,
	amount, reward uint64,
	window time.Duration,
	bens models.Beneficiaries,
) ledger.Address {
	t.Helper()
	mint := env.newMint(t, owner, ledger.Token2022ProgramID)
	_, err := env.engine.Initialize(context.Background(), InitializeParams{
		Owner:            owner,
		Mint:             mint,
		Amount:           amount,
		Reward:           reward,
		InactivityWindow: window,
		Beneficiaries:    bens,
	})
	require.NoError(t, err)
	return mint
}

func (env *testEnv) record(t *testing.T, owner ledger.Address) *models.Vault {
	t.Helper()
	v, err := env.repo.GetVaultByOwner(context.Background(), owner)
	require.NoError(t, err)
	return v
}

func (env *testEnv) escrow(t *testing.T, owner ledger.Address) ledger.Address {
	t.Helper()
	escrow, _, err := EscrowAddress(env.engine.ProgramID(), owner)
	require.NoError(t, err)
	return escrow
}

func (env *testEnv) supply(t *testing.T, mint ledger.Address) uint64 {
	t.Helper()
	var supply uint64
	require.NoError(t, env.ledger.Snapshot(context.Background(), func(view ledger.View) {
		mt, ok := view.Mint(mint)
		require.True(t, ok)
		supply = mt.Supply
	}))
	return supply
}

func (env *testEnv) tokenAccount(t *testing.T, owner, mint ledger.Address) ledger.TokenAccount {
	t.Helper()
	var acc ledger.TokenAccount
	require.NoError(t, env.ledger.Snapshot(context.Background(), func(view ledger.View) {
		acc, _ = view.TokenAccount(ledger.AssociatedTokenAddress(owner, mint, ledger.Token2022ProgramID))
	}))
	return acc
}

// transferClaims переводит токены-расписки владельца через transfer hook.
func (env *testEnv) transferClaims(t *testing.T, owner, mint, to ledger.Address, amount uint64) {
	t.Helper()
	tx, err := env.ledger.Begin(context.Background())
	require.NoError(t, err)
	source := ledger.AssociatedTokenAddress(owner, mint, ledger.Token2022ProgramID)
	require.NoError(t, tx.TransferChecked(mint, source, to, amount, ledger.UserSigner(owner), env.escrow(t, owner)))
	require.NoError(t, tx.Commit())
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEvent(ctx context.Context, event models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestEngine_PublishesEvents(t *testing.T) {
	tests := []struct {
		name       string
		publishErr error
	}{
		{name: "Архив принял событие"},
		{name: "Ошибка архива не отменяет операцию", publishErr: errors.New("архив недоступен")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := new(mockPublisher)
			env := newTestEnv(t, 0, WithEventPublisher(pub))
			owner := env.newFundedUser(t)

			pub.On("PublishEvent", mock.Anything, mock.MatchedBy(func(e models.Event) bool {
				return e.Kind == models.EventInitialized && e.Owner == owner
			})).Return(tt.publishErr).Once()

			env.initialize(t, owner, 100, 0, time.Hour, nil)

			pub.AssertExpectations(t)
			assert.Equal(t, uint64(100), env.record(t, owner).LockedAmount)
		})
	}
}

// failingRepo отклоняет применение изменений, имитируя сбой БД.
type failingRepo struct {
	repository.VaultRepository
}

func (failingRepo) Apply(context.Context, repository.VaultChange) error {
	return errors.New("соединение с БД потеряно")
}

func TestEngine_RepositoryFailureRollsBackLedger(t *testing.T) {
	env := newTestEnv(t, ledger.DefaultLamportsPerByteYear)
	owner := env.newFundedUser(t)
	mint := env.newMint(t, owner, ledger.Token2022ProgramID)
	balanceBefore := env.ledger.Balance(owner)

	engine := New(env.ledger, failingRepo{env.repo}, WithClock(env.clock.Now))
	_, err := engine.Initialize(context.Background(), InitializeParams{
		Owner:            owner,
		Mint:             mint,
		Amount:           1000,
		InactivityWindow: time.Hour,
	})
	require.Error(t, err)

	assert.Equal(t, balanceBefore, env.ledger.Balance(owner))
	assert.Equal(t, uint64(0), env.ledger.Balance(env.escrow(t, owner)))
	assert.Equal(t, uint64(0), env.supply(t, mint))
	assert.Equal(t, ledger.TokenAccount{}, env.tokenAccount(t, owner, mint))
}

func TestEngine_ConcurrentVaults(t *testing.T) {
	env := newTestEnv(t, 0)

	const owners = 8
	addrs := make([]ledger.Address, owners)
	for i := range addrs {
		addrs[i] = env.newFundedUser(t)
		env.initialize(t, addrs[i], 100, 0, time.Hour, nil)
	}

	var wg sync.WaitGroup
	for _, owner := range addrs {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 5 {
				_, err := env.engine.Deposit(context.Background(), owner, 10)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for range 5 {
				_, err := env.engine.Heartbeat(context.Background(), owner, owner)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, owner := range addrs {
		assert.Equal(t, uint64(150), env.ledger.Balance(env.escrow(t, owner)))
		assert.Equal(t, uint64(100), env.record(t, owner).LockedAmount)
	}
}

func TestEngine_Get(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	env.initialize(t, owner, 100, 5, time.Hour, nil)

	view, err := env.engine.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, models.VaultStateActive, view.State)
	assert.Equal(t, int64(3600), view.InactivityWindowSeconds)
	assert.Equal(t, env.clock.Now().Add(time.Hour), view.ExpiresAt)
	assert.Equal(t, uint64(100), view.EscrowBalance)

	env.clock.Advance(time.Hour)
	view, err = env.engine.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, models.VaultStateExpired, view.State)

	_, err = env.engine.Get(context.Background(), newAddress(t))
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}
