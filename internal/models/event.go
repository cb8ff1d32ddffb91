package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maynagashev/heirvault/internal/ledger"
)

// EventKind - тип события жизненного цикла хранилища.
type EventKind string

// Типы событий.
const (
	EventInitialized          EventKind = "initialized"
	EventDeposit              EventKind = "deposit"
	EventHeartbeat            EventKind = "heartbeat"
	EventRedeem               EventKind = "redeem"
	EventInheritanceTriggered EventKind = "inheritance_triggered"
)

// Event - событие, фиксируемое при успешной операции над хранилищем.
type Event struct {
	ID    uuid.UUID      `db:"id" json:"id"`
	Kind  EventKind      `db:"kind" json:"kind"`
	Owner ledger.Address `db:"owner" json:"owner"`
	// Vault - адрес эскроу хранилища.
	Vault ledger.Address `db:"vault" json:"vault"`
	// Actor - инициатор: вкладчик, погашающий держатель или запустивший наследование.
	Actor     ledger.Address `db:"actor" json:"actor"`
	Amount    uint64         `db:"amount" json:"amount"`
	Details   EventDetails   `db:"details" json:"details"`
	Timestamp time.Time      `db:"created_at" json:"timestamp"`
}

// Payout - выплата одному получателю.
type Payout struct {
	Address ledger.Address `json:"address"`
	Amount  uint64         `json:"amount"`
}

// EventDetails - дополнительные поля события, хранятся как JSONB.
type EventDetails struct {
	Reward  uint64   `json:"reward,omitempty"`
	Payouts []Payout `json:"payouts,omitempty"`
	// Dust - остаток, уничтоженный при закрытии эскроу.
	Dust   uint64 `json:"dust,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// Distributed возвращает сумму выплат наследникам.
func (d EventDetails) Distributed() uint64 {
	var total uint64
	for _, p := range d.Payouts {
		total += p.Amount
	}
	return total
}

// Value реализует driver.Valuer.
func (d EventDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan реализует sql.Scanner.
func (d *EventDetails) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	case nil:
		*d = EventDetails{}
		return nil
	default:
		return fmt.Errorf("неподдерживаемый тип деталей события: %T", src)
	}
}
