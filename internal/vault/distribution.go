package vault

import (
	"math/bits"
	"sort"

	"github.com/pkg/errors"

	"github.com/maynagashev/heirvault/internal/models"
)

// DistributionPolicy - способ округления долей наследников.
type DistributionPolicy string

// Поддерживаемые способы распределения.
const (
	// DistributeTruncate считает каждую долю независимо с отбрасыванием дробной части.
	// Неразделенный остаток остается в эскроу.
	DistributeTruncate DistributionPolicy = "truncate"
	// DistributeLargestRemainder раздает остаток по одной единице в порядке убывания
	// дробных частей; при равенстве - в порядке таблицы наследников.
	DistributeLargestRemainder DistributionPolicy = "largest-remainder"
)

// ParseDistributionPolicy разбирает название способа распределения.
func ParseDistributionPolicy(s string) (DistributionPolicy, error) {
	switch p := DistributionPolicy(s); p {
	case DistributeTruncate, DistributeLargestRemainder:
		return p, nil
	case "":
		return DistributeTruncate, nil
	default:
		return "", errors.Errorf("неизвестный способ распределения %q", s)
	}
}

// Distribute делит available между наследниками по долям в базисных пунктах.
// Сумма выплат никогда не превышает available * sum(bps) / 10000.
func Distribute(policy DistributionPolicy, available uint64, bens models.Beneficiaries) []models.Payout {
	payouts := make([]models.Payout, len(bens))
	remainders := make([]uint64, len(bens))

	var paid uint64
	for i, b := range bens {
		q, r := mulDiv(available, shareOf(b), models.BasisPoints)
		payouts[i] = models.Payout{Address: b.Address, Amount: q}
		remainders[i] = r
		paid += q
	}

	if policy != DistributeLargestRemainder || len(bens) == 0 {
		return payouts
	}

	var totalBps uint64
	for _, b := range bens {
		totalBps += shareOf(b)
	}
	if totalBps > models.BasisPoints {
		totalBps = models.BasisPoints
	}
	target, _ := mulDiv(available, totalBps, models.BasisPoints)
	if target <= paid {
		return payouts
	}
	leftover := target - paid

	order := make([]int, len(bens))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for _, i := range order {
		if leftover == 0 {
			break
		}
		if remainders[i] == 0 {
			continue
		}
		payouts[i].Amount++
		leftover--
	}
	return payouts
}

// SplitEqual делит amount поровну между наследниками. Остаток от деления не раздается.
func SplitEqual(amount uint64, bens models.Beneficiaries) []models.Payout {
	if len(bens) == 0 {
		return nil
	}
	each := amount / uint64(len(bens))
	payouts := make([]models.Payout, len(bens))
	for i, b := range bens {
		payouts[i] = models.Payout{Address: b.Address, Amount: each}
	}
	return payouts
}

func shareOf(b models.Beneficiary) uint64 {
	if uint64(b.ShareBps) > models.BasisPoints {
		return models.BasisPoints
	}
	return uint64(b.ShareBps)
}

// mulDiv возвращает частное и остаток a*b/c с 128-битным промежуточным произведением.
// Требует b <= c, тогда частное помещается в 64 бита.
func mulDiv(a, b, c uint64) (uint64, uint64) {
	hi, lo := bits.Mul64(a, b)
	return bits.Div64(hi, lo, c)
}

func sumPayouts(payouts []models.Payout) uint64 {
	var total uint64
	for _, p := range payouts {
		total += p.Amount
	}
	return total
}
