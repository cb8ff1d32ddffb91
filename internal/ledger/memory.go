package ledger

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Параметры расчета минимального баланса (как в реестре-источнике).
const (
	DefaultLamportsPerByteYear = 3480
	rentExemptionYears         = 2
	accountStorageOverhead     = 128
)

// Memory - реестр в памяти. Транзакции выполняются строго по одной:
// Begin захватывает реестр до Commit или Rollback.
type Memory struct {
	sem chan struct{}

	accounts map[Address]Account
	mints    map[Address]Mint
	tokens   map[Address]TokenAccount
	hooks    map[Address]TransferHook

	lamportsPerByteYear uint64
	destroyed           uint64
}

// MemoryOption настраивает Memory.
type MemoryOption func(*Memory)

// WithLamportsPerByteYear задает ставку аренды. Ноль отключает минимальный баланс.
func WithLamportsPerByteYear(lamports uint64) MemoryOption {
	return func(m *Memory) {
		m.lamportsPerByteYear = lamports
	}
}

// WithTransferHook регистрирует хук для программы.
func WithTransferHook(program Address, hook TransferHook) MemoryOption {
	return func(m *Memory) {
		m.hooks[program] = hook
	}
}

// NewMemory создает пустой реестр в памяти.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sem:                 make(chan struct{}, 1),
		accounts:            make(map[Address]Account),
		mints:               make(map[Address]Mint),
		tokens:              make(map[Address]TokenAccount),
		hooks:               make(map[Address]TransferHook),
		lamportsPerByteYear: DefaultLamportsPerByteYear,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Ledger = (*Memory)(nil)

// Begin открывает транзакцию, дожидаясь завершения предыдущей.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "ожидание транзакции реестра")
	}
	return &memoryTx{
		m:        m,
		accounts: make(map[Address]*Account),
		mints:    make(map[Address]*Mint),
		tokens:   make(map[Address]*TokenAccount),
	}, nil
}

// Airdrop зачисляет лампорты на аккаунт, создавая его при необходимости.
func (m *Memory) Airdrop(ctx context.Context, addr Address, lamports uint64) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mtx := tx.(*memoryTx)
	acc, ok := mtx.Account(addr)
	if !ok {
		acc = Account{Address: addr, Owner: SystemProgramID}
	}
	if acc.Lamports+lamports < acc.Lamports {
		return errors.Wrap(ErrInvalidAmount, "переполнение баланса")
	}
	acc.Lamports += lamports
	mtx.putAccount(acc)
	return tx.Commit()
}

// Snapshot выполняет fn над текущим состоянием реестра только для чтения.
// Изменения через view невозможны: транзакция снимка всегда откатывается.
func (m *Memory) Snapshot(ctx context.Context, fn func(view View)) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fn(tx)
	return nil
}

// Balance возвращает баланс аккаунта.
func (m *Memory) Balance(addr Address) uint64 {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return m.accounts[addr].Lamports
}

// TokenBalance возвращает баланс ассоциированного токен-аккаунта владельца.
func (m *Memory) TokenBalance(owner, mint Address) uint64 {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	mt, ok := m.mints[mint]
	if !ok {
		return 0
	}
	return m.tokens[AssociatedTokenAddress(owner, mint, mt.ProgramID)].Amount
}

// Destroyed возвращает сумму лампортов, уничтоженных принудительным закрытием аккаунтов.
func (m *Memory) Destroyed() uint64 {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return m.destroyed
}

func rentExemptMinimum(lamportsPerByteYear uint64, space int) uint64 {
	return uint64(accountStorageOverhead+space) * lamportsPerByteYear * rentExemptionYears
}

// memoryTx хранит изменения поверх состояния Memory. nil в карте означает удаление.
type memoryTx struct {
	m *Memory

	accounts map[Address]*Account
	mints    map[Address]*Mint
	tokens   map[Address]*TokenAccount

	destroyed uint64
	done      bool
}

func (tx *memoryTx) Account(addr Address) (Account, bool) {
	if a, ok := tx.accounts[addr]; ok {
		if a == nil {
			return Account{}, false
		}
		return *a, true
	}
	a, ok := tx.m.accounts[addr]
	return a, ok
}

func (tx *memoryTx) putAccount(a Account) {
	tx.accounts[a.Address] = &a
}

func (tx *memoryTx) Balance(addr Address) uint64 {
	a, _ := tx.Account(addr)
	return a.Lamports
}

func (tx *memoryTx) RentExemptMinimum(space int) uint64 {
	return rentExemptMinimum(tx.m.lamportsPerByteYear, space)
}

func (tx *memoryTx) CreateAccount(
	payer Signer,
	account Address,
	accountSigner Signer,
	lamports uint64,
	space int,
	owner Address,
) error {
	if tx.done {
		return ErrTxClosed
	}
	if err := checkSigner(accountSigner, account); err != nil {
		return errors.Wrapf(err, "создание аккаунта %s", account)
	}
	if _, exists := tx.Account(account); exists {
		return errors.Wrapf(ErrAccountExists, "создание аккаунта %s", account)
	}
	payerAddr, err := payer.SignerAddress()
	if err != nil {
		return errors.Wrap(err, "подпись плательщика")
	}
	if err = tx.debit(payerAddr, lamports); err != nil {
		return errors.Wrapf(err, "оплата создания аккаунта %s", account)
	}
	tx.putAccount(Account{Address: account, Lamports: lamports, Owner: owner, Space: space})
	return nil
}

func (tx *memoryTx) Transfer(from, to Address, amount uint64, signer Signer) error {
	if tx.done {
		return ErrTxClosed
	}
	if err := checkSigner(signer, from); err != nil {
		return errors.Wrapf(err, "перевод с %s", from)
	}
	src, ok := tx.Account(from)
	if ok && src.Owner != SystemProgramID {
		return errors.Wrapf(ErrOwnerMismatch, "перевод с аккаунта %s, не принадлежащего системной программе", from)
	}
	if err := tx.debit(from, amount); err != nil {
		return errors.Wrapf(err, "перевод %d с %s на %s", amount, from, to)
	}
	dst, ok := tx.Account(to)
	if !ok {
		dst = Account{Address: to, Owner: SystemProgramID}
	}
	if dst.Lamports+amount < dst.Lamports {
		return errors.Wrap(ErrInvalidAmount, "переполнение баланса получателя")
	}
	dst.Lamports += amount
	tx.putAccount(dst)
	return nil
}

func (tx *memoryTx) debit(addr Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, ok := tx.Account(addr)
	if !ok || acc.Lamports < amount {
		return ErrInsufficientFunds
	}
	acc.Lamports -= amount
	tx.putAccount(acc)
	return nil
}

func (tx *memoryTx) Close(account Address, signer Signer) (uint64, error) {
	if tx.done {
		return 0, ErrTxClosed
	}
	if err := checkSigner(signer, account); err != nil {
		return 0, errors.Wrapf(err, "закрытие аккаунта %s", account)
	}
	acc, ok := tx.Account(account)
	if !ok {
		return 0, errors.Wrapf(ErrAccountNotFound, "закрытие аккаунта %s", account)
	}
	tx.accounts[account] = nil
	tx.destroyed += acc.Lamports
	return acc.Lamports, nil
}

// Assign реализует HookContext.
func (tx *memoryTx) Assign(addr Address, owner Address) error {
	if tx.done {
		return ErrTxClosed
	}
	acc, ok := tx.Account(addr)
	if !ok {
		acc = Account{Address: addr}
	}
	acc.Owner = owner
	tx.putAccount(acc)
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	m := tx.m
	for addr, a := range tx.accounts {
		if a == nil {
			delete(m.accounts, addr)
			continue
		}
		m.accounts[addr] = *a
	}
	for addr, mt := range tx.mints {
		m.mints[addr] = *mt
	}
	for addr, t := range tx.tokens {
		m.tokens[addr] = *t
	}
	m.destroyed += tx.destroyed
	if tx.destroyed > 0 {
		zap.S().Debugf("[Ledger] Уничтожено %d лампортов при закрытии аккаунтов", tx.destroyed)
	}
	tx.release()
	return nil
}

func (tx *memoryTx) Rollback() {
	if tx.done {
		return
	}
	tx.release()
}

func (tx *memoryTx) release() {
	tx.done = true
	<-tx.m.sem
}

func checkSigner(signer Signer, want Address) error {
	if signer == nil {
		return ErrSignatureMismatch
	}
	got, err := signer.SignerAddress()
	if err != nil {
		return errors.Wrap(ErrSignatureMismatch, err.Error())
	}
	if got != want {
		return ErrSignatureMismatch
	}
	return nil
}
