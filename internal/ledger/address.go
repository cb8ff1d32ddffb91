package ledger

import (
	"crypto/ed25519"
	"database/sql/driver"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// AddressLength - длина адреса в байтах.
const AddressLength = 32

// Address - адрес аккаунта в базовом реестре (32 байта, в текстовом виде base58).
type Address [AddressLength]byte

// Системные программы реестра.
var (
	// SystemProgramID владеет всеми "нативными" аккаунтами, хранящими только лампорты.
	SystemProgramID = Address{}
	// TokenProgramID - классическая программа токенов.
	TokenProgramID = MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	// Token2022ProgramID - программа токенов с поддержкой transfer hook.
	Token2022ProgramID = MustParseAddress("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	// AssociatedTokenProgramID используется для вычисления адресов токен-аккаунтов.
	AssociatedTokenProgramID = MustParseAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// ParseAddress разбирает адрес из base58.
func ParseAddress(s string) (Address, error) {
	var a Address

	raw, err := base58.Decode(s)
	if err != nil {
		return a, errors.Wrapf(err, "невалидный адрес %q", s)
	}
	if len(raw) != AddressLength {
		return a, errors.Errorf("невалидная длина адреса %q: %d байт", s, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress - как ParseAddress, но паникует при ошибке. Только для констант.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// NewAddress генерирует новый адрес кошелька (публичный ключ ed25519).
// Приватный ключ не сохраняется: подписи проверяет внешний слой аутентификации.
func NewAddress() (Address, error) {
	var a Address

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return a, errors.Wrap(err, "ошибка генерации ключа")
	}
	copy(a[:], pub)
	return a, nil
}

// String возвращает base58-представление адреса.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero сообщает, что адрес не задан.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText реализует encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value реализует driver.Valuer: в БД адрес хранится строкой base58.
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan реализует sql.Scanner.
func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("неподдерживаемый тип адреса: %T", src)
	}
}
