package ledger

import (
	"github.com/pkg/errors"
)

func (tx *memoryTx) Mint(addr Address) (Mint, bool) {
	if mt, ok := tx.mints[addr]; ok {
		return *mt, true
	}
	mt, ok := tx.m.mints[addr]
	return mt, ok
}

func (tx *memoryTx) putMint(mt Mint) {
	tx.mints[mt.Address] = &mt
}

func (tx *memoryTx) TokenAccount(addr Address) (TokenAccount, bool) {
	if t, ok := tx.tokens[addr]; ok {
		return *t, true
	}
	t, ok := tx.m.tokens[addr]
	return t, ok
}

func (tx *memoryTx) putToken(t TokenAccount) {
	tx.tokens[t.Address] = &t
}

func (tx *memoryTx) CreateMint(
	payer Signer,
	mint Address,
	authority Address,
	decimals uint8,
	program Address,
	hook Address,
) error {
	if tx.done {
		return ErrTxClosed
	}
	if _, exists := tx.Mint(mint); exists {
		return errors.Wrapf(ErrAccountExists, "создание минта %s", mint)
	}
	rent := tx.RentExemptMinimum(MintAccountSize)
	if err := tx.CreateAccount(payer, mint, UserSigner(mint), rent, MintAccountSize, program); err != nil {
		return err
	}
	tx.putMint(Mint{
		Address:       mint,
		ProgramID:     program,
		MintAuthority: authority,
		Decimals:      decimals,
		TransferHook:  hook,
	})
	return nil
}

func (tx *memoryTx) CreateTokenAccount(payer Signer, owner Address, mint Address) (Address, error) {
	if tx.done {
		return Address{}, ErrTxClosed
	}
	mt, ok := tx.Mint(mint)
	if !ok {
		return Address{}, errors.Wrapf(ErrMintNotFound, "создание токен-аккаунта для %s", mint)
	}
	addr := AssociatedTokenAddress(owner, mint, mt.ProgramID)
	if _, exists := tx.TokenAccount(addr); exists {
		return addr, nil
	}
	rent := tx.RentExemptMinimum(TokenAccountSize)
	// Адрес ассоциированного аккаунта выводится детерминированно, отдельная подпись не нужна.
	if err := tx.CreateAccount(payer, addr, UserSigner(addr), rent, TokenAccountSize, mt.ProgramID); err != nil {
		return Address{}, err
	}
	tx.putToken(TokenAccount{Address: addr, Mint: mint, Owner: owner})
	return addr, nil
}

func (tx *memoryTx) MintTo(mint Address, to Address, amount uint64, authority Signer) error {
	if tx.done {
		return ErrTxClosed
	}
	mt, ok := tx.Mint(mint)
	if !ok {
		return errors.Wrapf(ErrMintNotFound, "выпуск токенов %s", mint)
	}
	signer, err := authority.SignerAddress()
	if err != nil || signer != mt.MintAuthority {
		return errors.Wrapf(ErrOwnerMismatch, "выпуск токенов %s", mint)
	}
	acc, err := tx.tokenAccountFor(mint, to)
	if err != nil {
		return err
	}
	if mt.Supply+amount < mt.Supply {
		return errors.Wrap(ErrInvalidAmount, "переполнение эмиссии")
	}
	mt.Supply += amount
	acc.Amount += amount
	tx.putMint(mt)
	tx.putToken(acc)
	return nil
}

func (tx *memoryTx) Burn(mint Address, from Address, amount uint64, authority Signer) error {
	if tx.done {
		return ErrTxClosed
	}
	mt, ok := tx.Mint(mint)
	if !ok {
		return errors.Wrapf(ErrMintNotFound, "сжигание токенов %s", mint)
	}
	acc, err := tx.tokenAccountFor(mint, from)
	if err != nil {
		return err
	}
	if acc.Amount < amount {
		return errors.Wrapf(ErrInsufficientFunds, "сжигание %d токенов с %s", amount, from)
	}
	if acc, err = spendAs(acc, amount, authority); err != nil {
		return errors.Wrapf(err, "сжигание токенов с %s", from)
	}
	acc.Amount -= amount
	mt.Supply -= amount
	tx.putMint(mt)
	tx.putToken(acc)
	return nil
}

func (tx *memoryTx) Approve(account Address, delegate Address, amount uint64, owner Signer) error {
	if tx.done {
		return ErrTxClosed
	}
	acc, ok := tx.TokenAccount(account)
	if !ok {
		return errors.Wrapf(ErrAccountNotFound, "назначение делегата для %s", account)
	}
	signer, err := owner.SignerAddress()
	if err != nil || signer != acc.Owner {
		return errors.Wrapf(ErrOwnerMismatch, "назначение делегата для %s", account)
	}
	acc.Delegate = delegate
	acc.DelegatedAmount = amount
	tx.putToken(acc)
	return nil
}

func (tx *memoryTx) TransferChecked(
	mint, source, destination Address,
	amount uint64,
	authority Signer,
	hookAuthority Address,
) error {
	if tx.done {
		return ErrTxClosed
	}
	mt, ok := tx.Mint(mint)
	if !ok {
		return errors.Wrapf(ErrMintNotFound, "перевод токенов %s", mint)
	}
	src, err := tx.tokenAccountFor(mint, source)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return errors.Wrapf(ErrInsufficientFunds, "перевод %d токенов с %s", amount, source)
	}
	if src, err = spendAs(src, amount, authority); err != nil {
		return errors.Wrapf(err, "перевод токенов с %s", source)
	}

	if !mt.TransferHook.IsZero() {
		hook, registered := tx.m.hooks[mt.TransferHook]
		if !registered {
			return errors.Wrapf(ErrHookNotRegistered, "программа %s", mt.TransferHook)
		}
		req := TransferRequest{
			Mint:        mint,
			Source:      source,
			Destination: destination,
			Amount:      amount,
			Authority:   hookAuthority,
		}
		if err = hook.Execute(tx, req); err != nil {
			return errors.Wrap(err, "перевод отклонен хуком")
		}
	}

	src.Amount -= amount
	tx.putToken(src)

	dstAddr := AssociatedTokenAddress(destination, mint, mt.ProgramID)
	dst, ok := tx.TokenAccount(dstAddr)
	if !ok {
		// Аренда за неявно созданный аккаунт не взимается.
		tx.putAccount(Account{Address: dstAddr, Owner: mt.ProgramID, Space: TokenAccountSize})
		dst = TokenAccount{Address: dstAddr, Mint: mint, Owner: destination}
	}
	dst.Amount += amount
	tx.putToken(dst)
	return nil
}

func (tx *memoryTx) tokenAccountFor(mint, addr Address) (TokenAccount, error) {
	acc, ok := tx.TokenAccount(addr)
	if !ok {
		return TokenAccount{}, errors.Wrapf(ErrAccountNotFound, "токен-аккаунт %s", addr)
	}
	if acc.Mint != mint {
		return TokenAccount{}, errors.Wrapf(ErrMintMismatch, "токен-аккаунт %s", addr)
	}
	return acc, nil
}

// spendAs проверяет, что authority - владелец или делегат с достаточным лимитом,
// и уменьшает лимит делегата. Исчерпанный лимит снимает делегата.
func spendAs(acc TokenAccount, amount uint64, authority Signer) (TokenAccount, error) {
	signer, err := authority.SignerAddress()
	if err != nil {
		return acc, errors.Wrap(ErrOwnerMismatch, err.Error())
	}
	switch {
	case signer == acc.Owner:
		return acc, nil
	case acc.HasDelegate() && signer == acc.Delegate:
		if acc.DelegatedAmount < amount {
			return acc, ErrInsufficientAllowance
		}
		acc.DelegatedAmount -= amount
		if acc.DelegatedAmount == 0 {
			acc.Delegate = Address{}
		}
		return acc, nil
	default:
		return acc, ErrOwnerMismatch
	}
}
