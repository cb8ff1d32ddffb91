package models

import (
	"github.com/maynagashev/heirvault/internal/ledger"
)

// CreateVaultRequest представляет тело запроса на создание хранилища.
type CreateVaultRequest struct {
	Amount                  uint64        `json:"amount"`
	Reward                  uint64        `json:"reward"`
	InactivityWindowSeconds int64         `json:"inactivity_window_seconds"`
	Beneficiaries           Beneficiaries `json:"beneficiaries"`
}

// AmountRequest представляет тело запросов пополнения и погашения.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// TokenTransferRequest представляет тело запроса на перевод токенов-расписок.
type TokenTransferRequest struct {
	// VaultOwner определяет хранилище, чьи расписки переводятся.
	VaultOwner ledger.Address `json:"vault_owner"`
	To         ledger.Address `json:"to"`
	Amount     uint64         `json:"amount"`
}

// ClaimBalance - баланс токенов-расписок одного хранилища.
type ClaimBalance struct {
	VaultOwner ledger.Address `json:"vault_owner"`
	Mint       ledger.Address `json:"mint"`
	Amount     uint64         `json:"amount"`
}

// AccountResponse - состояние аккаунта пользователя в реестрах.
type AccountResponse struct {
	Address  ledger.Address `json:"address"`
	Lamports uint64         `json:"lamports"`
	// Owner - программа, владеющая аккаунтом. Меняется после получения расписок.
	Owner  ledger.Address `json:"owner"`
	Claims []ClaimBalance `json:"claims"`
}
