package vault

import (
	"github.com/pkg/errors"

	"github.com/maynagashev/heirvault/internal/ledger"
)

// Ошибки операций над хранилищем.
var (
	ErrAlreadyInitialized   = errors.New("хранилище уже инициализировано")
	ErrRecordNotFound       = errors.New("хранилище не найдено")
	ErrUnauthorized         = errors.New("операция доступна только владельцу хранилища")
	ErrMissingDelegate      = errors.New("адрес хранилища не назначен делегатом токен-аккаунта владельца")
	ErrVaultStillActive     = errors.New("хранилище еще активно, наследование недоступно")
	ErrInvalidMint          = errors.New("минт не принадлежит программе Token-2022")
	ErrInvalidAmount        = errors.New("недопустимая сумма")
	ErrInvalidWindow        = errors.New("окно неактивности должно быть положительным")
	ErrInvalidBeneficiaries = errors.New("невалидная таблица наследников")

	// ErrInsufficientFunds - нехватка лампортов или токенов в реестре.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
)
