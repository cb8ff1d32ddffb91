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
	"github.com/maynagashev/heirvault/internal/repository"
)

func TestRedeem_Partial(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	mint := env.initialize(t, owner, 100, 0, time.Hour, nil)
	escrow := env.escrow(t, owner)
	ownerBefore := env.ledger.Balance(owner)

	event, err := env.engine.Redeem(context.Background(), owner, owner, 30)
	require.NoError(t, err)

	assert.Equal(t, models.EventRedeem, event.Kind)
	assert.Equal(t, owner, event.Actor)
	assert.Equal(t, uint64(30), event.Amount)
	assert.False(t, event.Details.Closed)

	assert.Equal(t, ownerBefore+30, env.ledger.Balance(owner))
	assert.Equal(t, uint64(70), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(70), env.record(t, owner).LockedAmount)
	assert.Equal(t, uint64(70), env.supply(t, mint))
	assert.Equal(t, uint64(70), env.tokenAccount(t, owner, mint).Amount)
}

func TestRedeem_AnyHolder(t *testing.T) {
	env := newTestEnv(t, 0)
	owner := env.newFundedUser(t)
	mint := env.initialize(t, owner, 100, 0, time.Hour, nil)
	escrow := env.escrow(t, owner)

	holder := newAddress(t)
	env.transferClaims(t, owner, mint, holder, 40)

	_, err := env.engine.Redeem(context.Background(), holder, owner, 40)
	require.NoError(t, err)

	assert.Equal(t, uint64(40), env.ledger.Balance(holder))
	assert.Equal(t, uint64(0), env.tokenAccount(t, holder, mint).Amount)
	assert.Equal(t, uint64(60), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(60), env.record(t, owner).LockedAmount)
}

func TestRedeem_FullClosureSplitsEqually(t *testing.T) {
	// Ставка 1 дает минимальный баланс 256: при трех наследниках по 85, остаток 1 уничтожается.
	env := newTestEnv(t, 1)
	owner := env.newFundedUser(t)
	heirs := []ledger.Address{newAddress(t), newAddress(t), newAddress(t)}
	bens := models.Beneficiaries{
		{Address: heirs[0], ShareBps: 7000},
		{Address: heirs[1], ShareBps: 2000},
		{Address: heirs[2], ShareBps: 1000},
	}
	mint := env.initialize(t, owner, 1000, 50, time.Hour, bens)
	escrow := env.escrow(t, owner)
	require.Equal(t, uint64(256+1000), env.ledger.Balance(escrow))

	event, err := env.engine.Redeem(context.Background(), owner, owner, 1000)
	require.NoError(t, err)

	for _, heir := range heirs {
		assert.Equal(t, uint64(85), env.ledger.Balance(heir))
	}
	assert.Equal(t, uint64(0), env.ledger.Balance(escrow))
	assert.Equal(t, uint64(1), env.ledger.Destroyed())
	assert.Equal(t, uint64(0), env.supply(t, mint))

	assert.True(t, event.Details.Closed)
	assert.Equal(t, uint64(1), event.Details.Dust)
	assert.Equal(t, uint64(255), event.Details.Distributed())

	_, err = env.repo.GetVaultByOwner(context.Background(), owner)
	assert.True(t, errors.Is(err, repository.ErrVaultNotFound))

	// После закрытия можно снова создать хранилище.
	env.initialize(t, owner, 10, 0, time.Hour, nil)
}

func TestRedeem_FullClosureWithoutBeneficiaries(t *testing.T) {
	env := newTestEnv(t, ledger.DefaultLamportsPerByteYear)
	owner := env.newFundedUser(t)
	env.initialize(t, owner, 500, 0, time.Hour, nil)
	escrow := env.escrow(t, owner)
	rent := env.ledger.Balance(escrow) - 500

	event, err := env.engine.Redeem(context.Background(), owner, owner, 500)
	require.NoError(t, err)

	assert.True(t, event.Details.Closed)
	assert.Equal(t, rent, event.Details.Dust)
	assert.Empty(t, event.Details.Payouts)
	assert.Equal(t, uint64(0), env.ledger.Balance(escrow))
}

func TestRedeem_Errors(t *testing.T) {
	tests := []struct {
		name        string
		redeem      func(env *testEnv, owner, mint ledger.Address) error
		expectedErr error
	}{
		{
			name: "Недостаточно токенов",
			redeem: func(env *testEnv, owner, _ ledger.Address) error {
				_, err := env.engine.Redeem(context.Background(), owner, owner, 101)
				return err
			},
			expectedErr: ErrInsufficientFunds,
		},
		{
			name: "Держатель без токен-аккаунта",
			redeem: func(env *testEnv, owner, _ ledger.Address) error {
				addr, err := ledger.NewAddress()
				if err != nil {
					return err
				}
				_, err = env.engine.Redeem(context.Background(), addr, owner, 1)
				return err
			},
			expectedErr: ledger.ErrAccountNotFound,
		},
		{
			name: "Хранилище не найдено",
			redeem: func(env *testEnv, owner, _ ledger.Address) error {
				_, err := env.engine.Redeem(context.Background(), owner, ledger.Address{1}, 1)
				return err
			},
			expectedErr: ErrRecordNotFound,
		},
		{
			name: "Нулевая сумма",
			redeem: func(env *testEnv, owner, _ ledger.Address) error {
				_, err := env.engine.Redeem(context.Background(), owner, owner, 0)
				return err
			},
			expectedErr: ErrInvalidAmount,
		},
		{
			name: "Неверный bump в записи",
			redeem: func(env *testEnv, owner, _ ledger.Address) error {
				v, err := env.repo.GetVaultByOwner(context.Background(), owner)
				if err != nil {
					return err
				}
				v.EscrowBump--
				if err = env.repo.Apply(context.Background(), repository.VaultChange{Op: repository.OpUpdate, Vault: v}); err != nil {
					return err
				}
				_, err = env.engine.Redeem(context.Background(), owner, owner, 10)
				return err
			},
			expectedErr: ledger.ErrSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			owner := env.newFundedUser(t)
			mint := env.initialize(t, owner, 100, 0, time.Hour, nil)
			escrow := env.escrow(t, owner)
			ownerBefore := env.ledger.Balance(owner)

			err := tt.redeem(env, owner, mint)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expectedErr), "ожидалась ошибка %v, получена %v", tt.expectedErr, err)

			assert.Equal(t, ownerBefore, env.ledger.Balance(owner))
			assert.Equal(t, uint64(100), env.ledger.Balance(escrow))
			assert.Equal(t, uint64(100), env.supply(t, mint))
			assert.Equal(t, uint64(100), env.tokenAccount(t, owner, mint).Amount)
			assert.Equal(t, uint64(100), env.record(t, owner).LockedAmount)
		})
	}
}
