package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// TriggerInheritance распределяет эскроу неактивного владельца.
//
// Сжигает LockedAmount токенов владельца от имени делегата, платит вызывающему награду
// (не больше баланса эскроу) и делит остаток между наследниками по долям.
// Если после выплат эскроу не выше минимального баланса, он закрывается, а запись удаляется.
func (e *Engine) TriggerInheritance(ctx context.Context, caller, owner ledger.Address) (models.Event, error) {
	return e.run(ctx, "trigger_inheritance", owner, func(tx ledger.Tx, now time.Time) (repository.VaultChange, error) {
		v, err := e.loadVault(ctx, owner)
		if err != nil {
			return repository.VaultChange{}, err
		}
		if State(v, now) == models.VaultStateActive {
			return repository.VaultChange{}, errors.Wrapf(ErrVaultStillActive, "истекает %s",
				v.ExpiresAt().Format(time.RFC3339))
		}

		mint, ok := tx.Mint(v.Mint)
		if !ok {
			return repository.VaultChange{}, errors.Wrapf(ledger.ErrMintNotFound, "минт хранилища %s", v.Mint)
		}
		ownerTokens := ledger.AssociatedTokenAddress(v.Owner, v.Mint, mint.ProgramID)
		acc, ok := tx.TokenAccount(ownerTokens)
		if !ok || acc.Delegate != v.Escrow {
			return repository.VaultChange{}, errors.Wrapf(ErrMissingDelegate, "токен-аккаунт %s", ownerTokens)
		}

		signer := e.escrowSigner(v)
		if v.LockedAmount > 0 {
			if err = tx.Burn(v.Mint, ownerTokens, v.LockedAmount, signer); err != nil {
				return repository.VaultChange{}, errors.Wrap(err, "сжигание заблокированных токенов")
			}
		}

		total := tx.Balance(v.Escrow)
		reward := min(v.RewardAmount, total)
		if err = tx.Transfer(v.Escrow, caller, reward, signer); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "выплата награды")
		}

		available := total - reward
		payouts := Distribute(e.policy, available, v.Beneficiaries)
		if err = e.payAll(tx, v, payouts); err != nil {
			return repository.VaultChange{}, err
		}

		v.LockedAmount = 0
		v.UpdatedAt = now

		event := newEvent(models.EventInheritanceTriggered, v.Owner, v.Escrow, caller, available, now)
		event.Details = models.EventDetails{
			Reward:  reward,
			Payouts: payouts,
			Dust:    available - sumPayouts(payouts),
		}

		closed, err := e.closeIfDrained(tx, v, nil, &event.Details)
		if err != nil {
			return repository.VaultChange{}, err
		}

		zap.S().Infof("[Vault] Наследование %s запущено %s: награда %d, выплачено %d, остаток %d",
			v.Owner, caller, reward, event.Details.Distributed(), event.Details.Dust)

		op := repository.OpUpdate
		if closed {
			op = repository.OpDelete
		}
		return repository.VaultChange{Op: op, Vault: v, Event: event}, nil
	})
}
