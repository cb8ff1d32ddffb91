package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maynagashev/heirvault/internal/ledger"
)

// BasisPoints - число базисных пунктов в целом (100%).
const BasisPoints = 10_000

// Vault представляет запись о хранилище одного вкладчика.
// Ключ записи - владелец: у каждого вкладчика не больше одного хранилища.
type Vault struct {
	Owner  ledger.Address `db:"owner" json:"owner"`
	Escrow ledger.Address `db:"escrow" json:"escrow"`
	Mint   ledger.Address `db:"mint" json:"mint"`
	// EscrowBump вместе с владельцем восстанавливает подпись за эскроу.
	EscrowBump uint8 `db:"escrow_bump" json:"escrow_bump"`
	// LockedAmount покрывает выпущенные токены-расписки. Только уменьшается (с насыщением).
	LockedAmount     uint64        `db:"locked_amount" json:"locked_amount"`
	RewardAmount     uint64        `db:"reward_amount" json:"reward_amount"`
	LastActiveAt     time.Time     `db:"last_active_at" json:"last_active_at"`
	InactivityWindow time.Duration `db:"inactivity_window_ns" json:"-"`
	Beneficiaries    Beneficiaries `db:"beneficiaries" json:"beneficiaries"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// ExpiresAt возвращает момент, начиная с которого можно запустить наследование.
func (v *Vault) ExpiresAt() time.Time {
	return v.LastActiveAt.Add(v.InactivityWindow)
}

// Beneficiary - наследник и его доля в базисных пунктах.
type Beneficiary struct {
	Address  ledger.Address `json:"address"`
	ShareBps uint16         `json:"share_bps"`
}

// Beneficiaries - упорядоченная таблица наследников. В БД хранится как JSONB.
type Beneficiaries []Beneficiary

// TotalBps возвращает сумму долей.
func (b Beneficiaries) TotalBps() uint64 {
	var total uint64
	for _, ben := range b {
		total += uint64(ben.ShareBps)
	}
	return total
}

// Value реализует driver.Valuer.
func (b Beneficiaries) Value() (driver.Value, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b)
}

// Scan реализует sql.Scanner.
func (b *Beneficiaries) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*b = nil
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип списка наследников: %T", src)
	}
	return json.Unmarshal(raw, b)
}

// VaultState - вычисляемое состояние хранилища.
type VaultState string

// Состояния хранилища. Истечение определяется лениво, в момент запроса.
const (
	VaultStateActive  VaultState = "active"
	VaultStateExpired VaultState = "expired"
)

// State возвращает состояние хранилища на момент now.
func (v *Vault) State(now time.Time) VaultState {
	if now.Before(v.ExpiresAt()) {
		return VaultStateActive
	}
	return VaultStateExpired
}

// VaultView - запись о хранилище вместе с вычисляемыми полями для API.
type VaultView struct {
	*Vault
	InactivityWindowSeconds int64      `json:"inactivity_window_seconds"`
	State                   VaultState `json:"state"`
	ExpiresAt               time.Time  `json:"expires_at"`
	EscrowBalance           uint64     `json:"escrow_balance"`
}
