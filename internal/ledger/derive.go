package ledger

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// CreateProgramAddress вычисляет адрес, управляемый программой, по набору сидов.
// Последним сидом обычно передается bump. Адрес не должен лежать на кривой ed25519:
// у такого адреса нет приватного ключа, подписывать за него может только программа.
func CreateProgramAddress(program Address, seeds ...[]byte) (Address, error) {
	var a Address

	if len(seeds) > maxSeeds {
		return a, ErrInvalidSeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return a, ErrInvalidSeeds
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	copy(a[:], h.Sum(nil))

	if IsOnCurve(a) {
		return Address{}, ErrOnCurve
	}
	return a, nil
}

// IsOnCurve сообщает, является ли адрес точкой кривой ed25519.
// Адреса программ (эскроу, токен-аккаунты) лежат вне кривой.
func IsOnCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// FindProgramAddress перебирает bump от 255 вниз и возвращает первый адрес вне кривой.
func FindProgramAddress(program Address, seeds ...[]byte) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(program, withBump...)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, errors.New("не удалось подобрать bump для адреса программы")
}

// AssociatedTokenAddress возвращает адрес токен-аккаунта владельца для минта.
func AssociatedTokenAddress(owner, mint, tokenProgram Address) Address {
	addr, _, err := FindProgramAddress(AssociatedTokenProgramID, owner[:], tokenProgram[:], mint[:])
	if err != nil {
		// При корректной длине сидов перебор bump всегда находит адрес.
		panic(err)
	}
	return addr
}

// Ошибки вычисления адресов.
var (
	ErrInvalidSeeds = errors.New("невалидные сиды адреса программы")
	ErrOnCurve      = errors.New("адрес лежит на кривой ed25519")
)
