package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
	"github.com/maynagashev/heirvault/internal/vault"
)

// ClaimDecimals - число знаков токена-расписки, как у лампортов.
const ClaimDecimals = 9

// MaxEventsLimit ограничивает размер страницы журнала событий.
const MaxEventsLimit = 100

// VaultService определяет интерфейс для сервиса работы с хранилищами.
type VaultService interface {
	CreateVault(ctx context.Context, owner ledger.Address, req models.CreateVaultRequest) (models.Event, error)
	Deposit(ctx context.Context, caller ledger.Address, amount uint64) (models.Event, error)
	Heartbeat(ctx context.Context, caller, owner ledger.Address) (models.Event, error)
	Redeem(ctx context.Context, redeemer, owner ledger.Address, amount uint64) (models.Event, error)
	TriggerInheritance(ctx context.Context, caller, owner ledger.Address) (models.Event, error)
	GetVault(ctx context.Context, owner ledger.Address) (*models.VaultView, error)
	ListEvents(ctx context.Context, owner ledger.Address, limit, offset int) ([]models.Event, error)
	GetArchivedEvent(ctx context.Context, owner ledger.Address, id uuid.UUID) (*models.Event, error)
}

// EventLoader читает копии событий из архива.
type EventLoader interface {
	LoadEvent(ctx context.Context, owner ledger.Address, id uuid.UUID) (*models.Event, error)
}

// VaultServiceConfig содержит зависимости сервиса хранилищ.
type VaultServiceConfig struct {
	Ledger ledger.Ledger
	Engine *vault.Engine
	Repo   repository.VaultRepository
	// HookProgram - программа transfer hook, назначаемая минтам расписок.
	HookProgram ledger.Address
	// Archive - архив событий; nil, если архив не настроен.
	Archive EventLoader
}

var _ VaultService = (*vaultService)(nil)

type vaultService struct {
	cfg VaultServiceConfig
}

// NewVaultService создает новый экземпляр сервиса хранилищ.
func NewVaultService(cfg VaultServiceConfig) VaultService {
	return &vaultService{cfg: cfg}
}

// CreateVault создает минт расписок, управляемый адресом эскроу, и инициализирует хранилище.
func (s *vaultService) CreateVault(
	ctx context.Context,
	owner ledger.Address,
	req models.CreateVaultRequest,
) (models.Event, error) {
	if req.InactivityWindowSeconds <= 0 || req.InactivityWindowSeconds > int64(maxWindow/time.Second) {
		return models.Event{}, vault.ErrInvalidWindow
	}
	params := vault.InitializeParams{
		Owner:            owner,
		Amount:           req.Amount,
		Reward:           req.Reward,
		InactivityWindow: time.Duration(req.InactivityWindowSeconds) * time.Second,
		Beneficiaries:    req.Beneficiaries,
	}
	if err := params.Validate(); err != nil {
		return models.Event{}, err
	}

	if _, err := s.cfg.Engine.Get(ctx, owner); err == nil {
		return models.Event{}, vault.ErrAlreadyInitialized
	} else if !errors.Is(err, vault.ErrRecordNotFound) {
		return models.Event{}, err
	}

	mint, err := s.createClaimMint(ctx, owner)
	if err != nil {
		return models.Event{}, err
	}
	params.Mint = mint

	event, err := s.cfg.Engine.Initialize(ctx, params)
	if err != nil {
		zap.S().Infof("[VaultService] Хранилище владельца %s не создано, минт %s остается без выпуска: %v",
			owner, mint, err)
		return models.Event{}, err
	}
	return event, nil
}

// createClaimMint создает минт Token-2022 с хуком. Создание оплачивает владелец.
func (s *vaultService) createClaimMint(ctx context.Context, owner ledger.Address) (ledger.Address, error) {
	authority, _, err := vault.EscrowAddress(s.cfg.Engine.ProgramID(), owner)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("ошибка вычисления адреса эскроу: %w", err)
	}
	mint, err := ledger.NewAddress()
	if err != nil {
		return ledger.Address{}, fmt.Errorf("ошибка генерации адреса минта: %w", err)
	}

	tx, err := s.cfg.Ledger.Begin(ctx)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("ошибка начала транзакции реестра: %w", err)
	}
	defer tx.Rollback()

	err = tx.CreateMint(ledger.UserSigner(owner), mint, authority, ClaimDecimals,
		ledger.Token2022ProgramID, s.cfg.HookProgram)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("ошибка создания минта расписок: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return ledger.Address{}, fmt.Errorf("ошибка фиксации транзакции реестра: %w", err)
	}

	zap.S().Infof("[VaultService] Создан минт расписок %s для владельца %s", mint, owner)
	return mint, nil
}

func (s *vaultService) Deposit(ctx context.Context, caller ledger.Address, amount uint64) (models.Event, error) {
	return s.cfg.Engine.Deposit(ctx, caller, amount)
}

func (s *vaultService) Heartbeat(ctx context.Context, caller, owner ledger.Address) (models.Event, error) {
	return s.cfg.Engine.Heartbeat(ctx, caller, owner)
}

func (s *vaultService) Redeem(ctx context.Context, redeemer, owner ledger.Address, amount uint64) (models.Event, error) {
	return s.cfg.Engine.Redeem(ctx, redeemer, owner, amount)
}

func (s *vaultService) TriggerInheritance(ctx context.Context, caller, owner ledger.Address) (models.Event, error) {
	return s.cfg.Engine.TriggerInheritance(ctx, caller, owner)
}

func (s *vaultService) GetVault(ctx context.Context, owner ledger.Address) (*models.VaultView, error) {
	return s.cfg.Engine.Get(ctx, owner)
}

// ListEvents возвращает журнал событий владельца. Журнал сохраняется и после закрытия хранилища.
func (s *vaultService) ListEvents(
	ctx context.Context,
	owner ledger.Address,
	limit,
	offset int,
) ([]models.Event, error) {
	if limit <= 0 || limit > MaxEventsLimit {
		limit = MaxEventsLimit
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.cfg.Repo.ListEvents(ctx, owner, limit, offset)
	if err != nil {
		zap.S().Errorf("[VaultService] Ошибка получения событий владельца %s: %v", owner, err)
		return nil, errors.New("внутренняя ошибка сервера при получении событий")
	}
	return events, nil
}

// GetArchivedEvent читает копию события из архива.
func (s *vaultService) GetArchivedEvent(
	ctx context.Context,
	owner ledger.Address,
	id uuid.UUID,
) (*models.Event, error) {
	if s.cfg.Archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.cfg.Archive.LoadEvent(ctx, owner, id)
}

// maxWindow - наибольшее окно, представимое в time.Duration.
const maxWindow = time.Duration(1<<63 - 1)

// Кастомные ошибки сервиса.
var (
	ErrArchiveDisabled = errors.New("архив событий не настроен")
)
