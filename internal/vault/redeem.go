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

// Redeem погашает amount токенов-расписок держателя и возвращает ему столько же лампортов.
// Погашать может любой держатель. Если эскроу опустел до минимального баланса,
// остаток делится поровну между наследниками, эскроу закрывается, запись удаляется.
func (e *Engine) Redeem(ctx context.Context, redeemer, owner ledger.Address, amount uint64) (models.Event, error) {
	if amount == 0 {
		observeResult("redeem", ErrInvalidAmount)
		return models.Event{}, ErrInvalidAmount
	}

	return e.run(ctx, "redeem", owner, func(tx ledger.Tx, now time.Time) (repository.VaultChange, error) {
		v, err := e.loadVault(ctx, owner)
		if err != nil {
			return repository.VaultChange{}, err
		}
		mint, ok := tx.Mint(v.Mint)
		if !ok {
			return repository.VaultChange{}, errors.Wrapf(ledger.ErrMintNotFound, "минт хранилища %s", v.Mint)
		}

		holder := ledger.UserSigner(redeemer)
		tokenAccount := ledger.AssociatedTokenAddress(redeemer, v.Mint, mint.ProgramID)
		if err = tx.Burn(v.Mint, tokenAccount, amount, holder); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "сжигание токенов-расписок")
		}
		if err = tx.Transfer(v.Escrow, redeemer, amount, e.escrowSigner(v)); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "возврат лампортов из эскроу")
		}

		v.LockedAmount = saturatingSub(v.LockedAmount, amount)
		v.UpdatedAt = now

		event := newEvent(models.EventRedeem, v.Owner, v.Escrow, redeemer, amount, now)
		closed, err := e.closeIfDrained(tx, v, func(remaining uint64) ([]models.Payout, error) {
			payouts := SplitEqual(remaining, v.Beneficiaries)
			return payouts, e.payAll(tx, v, payouts)
		}, &event.Details)
		if err != nil {
			return repository.VaultChange{}, err
		}

		op := repository.OpUpdate
		if closed {
			op = repository.OpDelete
			zap.S().Infof("[Vault] Эскроу %s владельца %s закрыт после погашения", v.Escrow, v.Owner)
		}
		return repository.VaultChange{Op: op, Vault: v, Event: event}, nil
	})
}
