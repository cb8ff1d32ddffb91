package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// InitializeParams - параметры создания хранилища.
type InitializeParams struct {
	Owner            ledger.Address
	Mint             ledger.Address
	Amount           uint64
	Reward           uint64
	InactivityWindow time.Duration
	Beneficiaries    models.Beneficiaries
}

// Validate проверяет параметры, не обращаясь к реестрам.
func (p InitializeParams) Validate() error {
	if p.Owner.IsZero() {
		return errors.Wrap(ErrUnauthorized, "пустой адрес владельца")
	}
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	if err := checkAmountLimit(p.Amount); err != nil {
		return err
	}
	if err := checkAmountLimit(p.Reward); err != nil {
		return errors.Wrap(err, "награда")
	}
	if p.InactivityWindow <= 0 {
		return ErrInvalidWindow
	}
	return ValidateBeneficiaries(p.Beneficiaries)
}

func checkAmountLimit(amount uint64) error {
	if amount > MaxAmount {
		return errors.Wrapf(ErrInvalidAmount, "сумма %d больше %d", amount, uint64(MaxAmount))
	}
	return nil
}

// ValidateBeneficiaries проверяет таблицу наследников: размер, адреса и сумму долей.
// Пустая таблица допустима.
func ValidateBeneficiaries(bens models.Beneficiaries) error {
	if len(bens) > MaxBeneficiaries {
		return errors.Wrapf(ErrInvalidBeneficiaries, "не больше %d наследников", MaxBeneficiaries)
	}
	for i, b := range bens {
		if b.Address.IsZero() {
			return errors.Wrapf(ErrInvalidBeneficiaries, "наследник #%d без адреса", i+1)
		}
		if b.ShareBps > models.BasisPoints {
			return errors.Wrapf(ErrInvalidBeneficiaries, "доля наследника #%d больше %d bps", i+1, models.BasisPoints)
		}
	}
	if total := bens.TotalBps(); total > models.BasisPoints {
		return errors.Wrapf(ErrInvalidBeneficiaries, "сумма долей %d больше %d bps", total, models.BasisPoints)
	}
	return nil
}

// Initialize создает хранилище: эскроу с amount лампортов, выпуск amount токенов-расписок
// владельцу и назначение управляющего адреса делегатом на всю сумму.
func (e *Engine) Initialize(ctx context.Context, p InitializeParams) (models.Event, error) {
	if err := p.Validate(); err != nil {
		observeResult("initialize", err)
		return models.Event{}, err
	}

	return e.run(ctx, "initialize", p.Owner, func(tx ledger.Tx, now time.Time) (repository.VaultChange, error) {
		_, err := e.repo.GetVaultByOwner(ctx, p.Owner)
		switch {
		case err == nil:
			return repository.VaultChange{}, errors.Wrapf(ErrAlreadyInitialized, "владелец %s", p.Owner)
		case !errors.Is(err, repository.ErrVaultNotFound):
			return repository.VaultChange{}, errors.Wrap(err, "чтение записи хранилища")
		}

		mint, ok := tx.Mint(p.Mint)
		if !ok {
			return repository.VaultChange{}, errors.Wrapf(ErrInvalidMint, "минт %s не найден", p.Mint)
		}
		if mint.ProgramID != ledger.Token2022ProgramID {
			return repository.VaultChange{}, errors.Wrapf(ErrInvalidMint, "минт %s", p.Mint)
		}

		escrow, bump, err := EscrowAddress(e.programID, p.Owner)
		if err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "вычисление адреса эскроу")
		}
		v := &models.Vault{
			Owner:            p.Owner,
			Escrow:           escrow,
			Mint:             p.Mint,
			EscrowBump:       bump,
			LockedAmount:     p.Amount,
			RewardAmount:     p.Reward,
			LastActiveAt:     now,
			InactivityWindow: p.InactivityWindow,
			Beneficiaries:    append(models.Beneficiaries{}, p.Beneficiaries...),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		signer := e.escrowSigner(v)
		owner := ledger.UserSigner(p.Owner)

		rent := tx.RentExemptMinimum(0)
		if err = tx.CreateAccount(owner, escrow, signer, rent, 0, ledger.SystemProgramID); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "создание эскроу")
		}
		if err = tx.Transfer(p.Owner, escrow, p.Amount, owner); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "перевод депозита в эскроу")
		}

		tokenAccount, err := tx.CreateTokenAccount(owner, p.Owner, p.Mint)
		if err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "создание токен-аккаунта владельца")
		}
		if err = tx.MintTo(p.Mint, tokenAccount, p.Amount, signer); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "выпуск токенов-расписок")
		}
		if err = tx.Approve(tokenAccount, escrow, p.Amount, owner); err != nil {
			return repository.VaultChange{}, errors.Wrap(err, "назначение делегата")
		}

		return repository.VaultChange{
			Op:    repository.OpCreate,
			Vault: v,
			Event: newEvent(models.EventInitialized, p.Owner, escrow, p.Owner, p.Amount, now),
		}, nil
	})
}
