// Package ledger описывает внешние реестры, с которыми работает хранилище:
// базовый реестр лампортов и реестр токенов. Все изменения выполняются внутри
// транзакции Tx, которая применяется целиком или не применяется вовсе.
package ledger

import (
	"context"

	"github.com/pkg/errors"
)

// Размеры аккаунтов, используемые при расчете минимального баланса.
const (
	MintAccountSize  = 82
	TokenAccountSize = 165
)

// Account - аккаунт базового реестра.
type Account struct {
	Address  Address `json:"address"`
	Lamports uint64  `json:"lamports"`
	// Owner - программа, владеющая аккаунтом.
	Owner Address `json:"owner"`
	Space int     `json:"space"`
}

// Mint - тип токена.
type Mint struct {
	Address       Address `json:"address"`
	ProgramID     Address `json:"program_id"`
	MintAuthority Address `json:"mint_authority"`
	Supply        uint64  `json:"supply"`
	Decimals      uint8   `json:"decimals"`
	// TransferHook - программа, вызываемая перед каждым переводом. Нулевой адрес - без хука.
	TransferHook Address `json:"transfer_hook"`
}

// TokenAccount - баланс владельца по конкретному минту.
type TokenAccount struct {
	Address         Address `json:"address"`
	Mint            Address `json:"mint"`
	Owner           Address `json:"owner"`
	Amount          uint64  `json:"amount"`
	Delegate        Address `json:"delegate"`
	DelegatedAmount uint64  `json:"delegated_amount"`
}

// HasDelegate сообщает, назначен ли делегат.
func (t TokenAccount) HasDelegate() bool {
	return !t.Delegate.IsZero()
}

// Signer - сторона, подписывающая операцию.
type Signer interface {
	SignerAddress() (Address, error)
}

// UserSigner - подпись владельца ключа, уже проверенная внешним слоем.
type UserSigner Address

// SignerAddress реализует Signer.
func (s UserSigner) SignerAddress() (Address, error) {
	return Address(s), nil
}

// ProgramSigner - подпись программы за адрес, выведенный из сидов.
// Неверные сиды или bump дают другой адрес, и реестр отклонит операцию.
type ProgramSigner struct {
	Program Address
	Seeds   [][]byte
}

// SignerAddress реализует Signer.
func (s ProgramSigner) SignerAddress() (Address, error) {
	return CreateProgramAddress(s.Program, s.Seeds...)
}

// Accounts - операции базового реестра.
type Accounts interface {
	Account(addr Address) (Account, bool)
	Balance(addr Address) uint64
	// RentExemptMinimum возвращает минимальный баланс для аккаунта заданного размера.
	RentExemptMinimum(space int) uint64
	// CreateAccount создает аккаунт с балансом lamports, списанным с payer.
	// Аккаунт обязан подписать создание (для адресов программ - ProgramSigner).
	CreateAccount(payer Signer, account Address, accountSigner Signer, lamports uint64, space int, owner Address) error
	// Transfer переводит лампорты. Подписант должен совпадать с from.
	Transfer(from, to Address, amount uint64, signer Signer) error
	// Close принудительно обнуляет и удаляет аккаунт, возвращая уничтоженный остаток.
	Close(account Address, signer Signer) (uint64, error)
}

// Tokens - операции реестра токенов.
type Tokens interface {
	CreateMint(payer Signer, mint Address, authority Address, decimals uint8, program Address, hook Address) error
	Mint(addr Address) (Mint, bool)
	TokenAccount(addr Address) (TokenAccount, bool)
	// CreateTokenAccount создает (если его нет) ассоциированный токен-аккаунт owner для mint.
	CreateTokenAccount(payer Signer, owner Address, mint Address) (Address, error)
	MintTo(mint Address, to Address, amount uint64, authority Signer) error
	Burn(mint Address, from Address, amount uint64, authority Signer) error
	Approve(account Address, delegate Address, amount uint64, owner Signer) error
	// TransferChecked переводит токены с source на ассоциированный аккаунт destination.
	// hookAuthority передается хуку минта как заявленная управляющая программа.
	TransferChecked(mint, source, destination Address, amount uint64, authority Signer, hookAuthority Address) error
}

// Tx - транзакция над обоими реестрами.
type Tx interface {
	Accounts
	Tokens
	Commit() error
	// Rollback отменяет транзакцию. После Commit ничего не делает.
	Rollback()
}

// Ledger открывает транзакции.
type Ledger interface {
	Begin(ctx context.Context) (Tx, error)
}

// View - чтение состояния реестров.
type View interface {
	Account(addr Address) (Account, bool)
	Balance(addr Address) uint64
	Mint(addr Address) (Mint, bool)
	TokenAccount(addr Address) (TokenAccount, bool)
}

// TransferRequest - параметры перевода, передаваемые хуку.
type TransferRequest struct {
	Mint        Address
	Source      Address
	Destination Address
	Amount      uint64
	Authority   Address
}

// HookContext - доступ хука к состоянию внутри транзакции перевода.
type HookContext interface {
	Account(addr Address) (Account, bool)
	TokenAccount(addr Address) (TokenAccount, bool)
	// Assign переназначает программу-владельца аккаунта.
	Assign(addr Address, owner Address) error
}

// TransferHook вызывается реестром токенов перед каждым переводом минта с хуком.
type TransferHook interface {
	Execute(hc HookContext, req TransferRequest) error
}

// Ошибки реестров.
var (
	ErrInsufficientFunds     = errors.New("недостаточно средств")
	ErrInsufficientAllowance = errors.New("недостаточный лимит делегата")
	ErrOwnerMismatch         = errors.New("подписант не является владельцем или делегатом")
	ErrSignatureMismatch     = errors.New("подпись не соответствует аккаунту")
	ErrAccountExists         = errors.New("аккаунт уже существует")
	ErrAccountNotFound       = errors.New("аккаунт не найден")
	ErrMintNotFound          = errors.New("минт не найден")
	ErrMintMismatch          = errors.New("токен-аккаунт принадлежит другому минту")
	ErrHookNotRegistered     = errors.New("программа transfer hook не зарегистрирована")
	ErrInvalidAmount         = errors.New("невалидная сумма")
	ErrTxClosed              = errors.New("транзакция уже завершена")
)
