package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/repository"
)

func TestTriggerInheritance_Scenario(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	heir := newAddress(t)
	trigger := newAddress(t)
	mint := env.initialize(t, owner, 100, 5, 3600*time.Second,
		models.Beneficiaries{{Address: heir, ShareBps: 10_000}})
	escrow := env.escrow(t, owner)

	_, err := env.engine.TriggerInheritance(context.Background(), trigger, owner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVaultStillActive))
	assert.Equal(t, uint64(100), env.record(t, owner).LockedAmount)
	assert.Equal(t, uint64(100), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(100), env.supply(t, mint))

	env.clock.Advance(3599 * time.Second)
	_, err = env.engine.TriggerInheritance(context.Background(), trigger, owner)
	assert.True(t, errors.Is(err, ErrVaultStillActive))

	env.clock.Advance(time.Second)
	event, err := env.engine.TriggerInheritance(context.Background(), trigger, owner)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), env.ledger.Balance(trigger))
	assert.Equal(t, uint64(95), env.ledger.Balance(heir))
	assert.Equal(t, uint64(0), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(0), env.supply(t, mint))

	assert.Equal(t, models.EventInheritanceTriggered, event.Kind)
	assert.Equal(t, owner, event.Owner)
	assert.Equal(t, trigger, event.Actor)
	assert.Equal(t, env.clock.Now(), event.Timestamp)
	assert.Equal(t, uint64(5), event.Details.Reward)
	assert.Equal(t, []models.Payout{{Address: heir, Amount: 95}}, event.Details.Payouts)
	assert.True(t, event.Details.Closed)

	// Эскроу опустел до минимального баланса: запись удалена вместе с LockedAmount.
	_, err = env.repo.GetVaultByOwner(context.Background(), owner)
	assert.True(t, errors.Is(err, repository.ErrVaultNotFound))
}

func TestTriggerInheritance_KeepsRecordWithResidual(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	heir := newAddress(t)
	env.initialize(t, owner, 1000, 0, time.Hour, models.Beneficiaries{{Address: heir, ShareBps: 5000}})
	heartbeatAt := env.record(t, owner).LastActiveAt

	env.clock.Advance(2 * time.Hour)
	event, err := env.engine.TriggerInheritance(context.Background(), newAddress(t), owner)
	require.NoError(t, err)

	assert.Equal(t, uint64(500), env.ledger.Balance(heir))
	assert.False(t, event.Details.Closed)
	assert.Equal(t, uint64(500), event.Details.Dust)

	v := env.record(t, owner)
	assert.Equal(t, uint64(0), v.LockedAmount)
	assert.Equal(t, heartbeatAt, v.LastActiveAt, "наследование не меняет время активности")
	assert.Equal(t, uint64(500), env.ledger.Balance(env.escrow(t, owner)))
}

func TestTriggerInheritance_DustBound(t *testing.T) {
	tests := []struct {
		name         string
		policy       DistributionPolicy
		amount       uint64
		reward       uint64
		expectedDust uint64
		closed       bool
	}{
		{name: "Отбрасывание дробной части", policy: DistributeTruncate, amount: 101, expectedDust: 2},
		{name: "Отбрасывание с наградой", policy: DistributeTruncate, amount: 1_000_003, reward: 7, expectedDust: 2},
		{name: "Наибольший остаток", policy: DistributeLargestRemainder, amount: 101, expectedDust: 0, closed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0, WithDistributionPolicy(tt.policy))
			owner := env.newFundedUser(t)
			bens := models.Beneficiaries{
				{Address: newAddress(t), ShareBps: 3333},
				{Address: newAddress(t), ShareBps: 3333},
				{Address: newAddress(t), ShareBps: 3334},
			}
			env.initialize(t, owner, tt.amount, tt.reward, time.Minute, bens)
			total := env.ledger.Balance(env.escrow(t, owner))

			env.clock.Advance(time.Minute)
			event, err := env.engine.TriggerInheritance(context.Background(), newAddress(t), owner)
			require.NoError(t, err)

			distributed := event.Details.Distributed()
			assert.LessOrEqual(t, tt.reward+distributed, total)
			assert.Less(t, event.Details.Dust, uint64(len(bens)))
			assert.Equal(t, tt.expectedDust, event.Details.Dust)
			assert.Equal(t, total-tt.reward-distributed, event.Details.Dust)
			assert.Equal(t, tt.closed, event.Details.Closed)
		})
	}
}

func TestTriggerInheritance_RewardCappedAtTotal(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	heir := newAddress(t)
	trigger := newAddress(t)
	env.initialize(t, owner, 10, 1_000, time.Minute, models.Beneficiaries{{Address: heir, ShareBps: 10_000}})

	env.clock.Advance(time.Minute)
	event, err := env.engine.TriggerInheritance(context.Background(), trigger, owner)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), env.ledger.Balance(trigger))
	assert.Equal(t, uint64(0), env.ledger.Balance(heir))
	assert.Equal(t, uint64(10), event.Details.Reward)
	assert.True(t, event.Details.Closed)
}

func TestTriggerInheritance_AfterPartialRedeem(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	heir := newAddress(t)
	mint := env.initialize(t, owner, 100, 0, time.Minute, models.Beneficiaries{{Address: heir, ShareBps: 10_000}})

	_, err := env.engine.Redeem(context.Background(), owner, owner, 40)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	_, err = env.engine.TriggerInheritance(context.Background(), newAddress(t), owner)
	require.NoError(t, err)

	assert.Equal(t, uint64(60), env.ledger.Balance(heir))
	assert.Equal(t, uint64(0), env.supply(t, mint))
}

func TestTriggerInheritance_MissingDelegate(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	mint := env.initialize(t, owner, 100, 5, time.Minute, nil)
	escrow := env.escrow(t, owner)

	// Владелец передает лимит другому адресу.
	tx, err := env.ledger.Begin(context.Background())
	require.NoError(t, err)
	ownerTokens := ledger.AssociatedTokenAddress(owner, mint, ledger.Token2022ProgramID)
	require.NoError(t, tx.Approve(ownerTokens, newAddress(t), 100, ledger.UserSigner(owner)))
	require.NoError(t, tx.Commit())

	env.clock.Advance(time.Hour)
	trigger := newAddress(t)
	_, err = env.engine.TriggerInheritance(context.Background(), trigger, owner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDelegate))

	assert.Equal(t, uint64(100), env.record(t, owner).LockedAmount)
	assert.Equal(t, uint64(100), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(100), env.supply(t, mint))
	assert.Equal(t, uint64(0), env.ledger.Balance(trigger))
}

func TestTriggerInheritance_HeartbeatPostponesExpiry(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	env.initialize(t, owner, 100, 0, time.Hour, nil)

	env.clock.Advance(50 * time.Minute)
	_, err := env.engine.Heartbeat(context.Background(), owner, owner)
	require.NoError(t, err)

	env.clock.Advance(50 * time.Minute)
	_, err = env.engine.TriggerInheritance(context.Background(), newAddress(t), owner)
	assert.True(t, errors.Is(err, ErrVaultStillActive))
}

func TestTriggerInheritance_ClaimsCannotTargetForeignEscrow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	victim := env.newFundedUser(t)
	heir := newAddress(t)
	env.initialize(t, victim, 1000, 0, time.Hour, models.Beneficiaries{{Address: heir, ShareBps: 10_000}})
	victimEscrow := env.escrow(t, victim)

	attacker := env.newFundedUser(t)
	attackerMint := env.initialize(t, attacker, 100, 0, time.Hour, nil)

	tx, err := env.ledger.Begin(ctx)
	require.NoError(t, err)
	source := ledger.AssociatedTokenAddress(attacker, attackerMint, ledger.Token2022ProgramID)
	err = tx.TransferChecked(attackerMint, source, victimEscrow, 1,
		ledger.UserSigner(attacker), env.escrow(t, attacker))
	require.Error(t, err)
	assert.True(t, errors.Is(err, policy.ErrInvalidDestination))
	tx.Rollback()

	require.NoError(t, env.ledger.Snapshot(ctx, func(view ledger.View) {
		acc, ok := view.Account(victimEscrow)
		require.True(t, ok)
		assert.Equal(t, ledger.SystemProgramID, acc.Owner, "эскроу остается за системной программой")
	}))
	assert.Equal(t, uint64(100), env.tokenAccount(t, attacker, attackerMint).Amount)

	// Хранилище жертвы продолжает работать целиком.
	_, err = env.engine.Deposit(ctx, victim, 100)
	require.NoError(t, err)
	_, err = env.engine.Redeem(ctx, victim, victim, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), env.record(t, victim).LockedAmount)

	env.clock.Advance(time.Hour)
	event, err := env.engine.TriggerInheritance(ctx, newAddress(t), victim)
	require.NoError(t, err)
	assert.Equal(t, []models.Payout{{Address: heir, Amount: 1000}}, event.Details.Payouts)
	assert.Equal(t, uint64(1000), env.ledger.Balance(heir))
}
