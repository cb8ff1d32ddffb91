package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// Deposit переводит amount лампортов вызывающего в его эскроу.
// Нужен только существующий эскроу; запись хранилища (LockedAmount, LastActiveAt) не меняется,
// новые токены-расписки не выпускаются.
func (e *Engine) Deposit(ctx context.Context, caller ledger.Address, amount uint64) (models.Event, error) {
	if amount == 0 {
		observeResult("deposit", ErrInvalidAmount)
		return models.Event{}, ErrInvalidAmount
	}
	if err := checkAmountLimit(amount); err != nil {
		observeResult("deposit", err)
		return models.Event{}, err
	}

	return e.run(ctx, "deposit", caller, func(tx ledger.Tx, now time.Time) (repository.VaultChange, error) {
		escrow, _, err := EscrowAddress(e.programID, caller)
		if err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "вычисление адреса эскроу")
		}
		acc, ok := tx.Account(escrow)
		if !ok || acc.Owner != ledger.SystemProgramID {
			return repository.VaultChange{}, errors.Wrapf(ErrRecordNotFound, "эскроу %s", escrow)
		}

		if err = tx.Transfer(caller, escrow, amount, ledger.UserSigner(caller)); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "пополнение эскроу")
		}

		return repository.VaultChange{
			Op:    repository.OpNone,
			Event: newEvent(models.EventDeposit, caller, escrow, caller, amount, now),
		}, nil
	})
}
