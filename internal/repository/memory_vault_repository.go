package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
)

// MemoryVaultRepository хранит записи и события в памяти.
// Используется, когда БД не настроена, и в тестах.
type MemoryVaultRepository struct {
	mu     sync.RWMutex
	vaults map[ledger.Address]models.Vault
	events []models.Event
}

var _ VaultRepository = (*MemoryVaultRepository)(nil)

// NewMemoryVaultRepository создает пустой репозиторий в памяти.
func NewMemoryVaultRepository() *MemoryVaultRepository {
	return &MemoryVaultRepository{vaults: make(map[ledger.Address]models.Vault)}
}

// GetVaultByOwner возвращает копию записи хранилища.
func (r *MemoryVaultRepository) GetVaultByOwner(_ context.Context, owner ledger.Address) (*models.Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vaults[owner]
	if !ok {
		return nil, ErrVaultNotFound
	}
	return cloneVault(&v), nil
}

// Apply применяет изменение атомарно относительно других вызовов.
func (r *MemoryVaultRepository) Apply(_ context.Context, change VaultChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if change.Op != OpNone && change.Vault == nil {
		return fmt.Errorf("изменение хранилища без записи")
	}

	switch change.Op {
	case OpNone:
	case OpCreate:
		if _, exists := r.vaults[change.Vault.Owner]; exists {
			return ErrVaultExists
		}
		r.vaults[change.Vault.Owner] = *cloneVault(change.Vault)
	case OpUpdate:
		if _, exists := r.vaults[change.Vault.Owner]; !exists {
			return ErrVaultNotFound
		}
		r.vaults[change.Vault.Owner] = *cloneVault(change.Vault)
	case OpDelete:
		if _, exists := r.vaults[change.Vault.Owner]; !exists {
			return ErrVaultNotFound
		}
		delete(r.vaults, change.Vault.Owner)
	default:
		return fmt.Errorf("неизвестное действие над хранилищем: %d", change.Op)
	}

	if change.Event != nil {
		r.events = append(r.events, *change.Event)
	}
	return nil
}

// ListEvents возвращает события владельца, сначала новые.
func (r *MemoryVaultRepository) ListEvents(
	_ context.Context,
	owner ledger.Address,
	limit,
	offset int,
) ([]models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []models.Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Owner == owner {
			matched = append(matched, r.events[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if offset >= len(matched) {
		return []models.Event{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneVault(v *models.Vault) *models.Vault {
	c := *v
	c.Beneficiaries = append(models.Beneficiaries(nil), v.Beneficiaries...)
	return &c
}
