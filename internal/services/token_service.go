package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/vault"
)

// TokenService определяет операции с аккаунтами пользователей и токенами-расписками.
type TokenService interface {
	// GetAccount возвращает баланс лампортов и расписок. Собственное хранилище
	// пользователя учитывается всегда, хранилища vaultOwners - дополнительно.
	GetAccount(ctx context.Context, addr ledger.Address, vaultOwners ...ledger.Address) (*models.AccountResponse, error)
	// Transfer переводит расписки хранилища req.VaultOwner. Перевод проходит через хук минта.
	Transfer(ctx context.Context, from ledger.Address, req models.TokenTransferRequest) error
}

var _ TokenService = (*tokenService)(nil)

type tokenService struct {
	ledger ledger.Ledger
	engine *vault.Engine
}

// NewTokenService создает сервис токенов.
func NewTokenService(l ledger.Ledger, engine *vault.Engine) TokenService {
	return &tokenService{ledger: l, engine: engine}
}

func (s *tokenService) GetAccount(
	ctx context.Context,
	addr ledger.Address,
	vaultOwners ...ledger.Address,
) (*models.AccountResponse, error) {
	owners := append([]ledger.Address{addr}, vaultOwners...)
	seen := make(map[ledger.Address]bool, len(owners))
	var vaults []*models.VaultView
	for _, owner := range owners {
		if seen[owner] {
			continue
		}
		seen[owner] = true

		view, err := s.engine.Get(ctx, owner)
		if err != nil {
			if errors.Is(err, vault.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		vaults = append(vaults, view)
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции реестра: %w", err)
	}
	defer tx.Rollback()

	resp := &models.AccountResponse{
		Address: addr,
		Claims:  make([]models.ClaimBalance, 0, len(vaults)),
	}
	if acc, ok := tx.Account(addr); ok {
		resp.Lamports = acc.Lamports
		resp.Owner = acc.Owner
	}
	for _, v := range vaults {
		claim := models.ClaimBalance{VaultOwner: v.Owner, Mint: v.Mint}
		if ta, ok := tx.TokenAccount(ledger.AssociatedTokenAddress(addr, v.Mint, ledger.Token2022ProgramID)); ok {
			claim.Amount = ta.Amount
		}
		resp.Claims = append(resp.Claims, claim)
	}
	return resp, nil
}

func (s *tokenService) Transfer(ctx context.Context, from ledger.Address, req models.TokenTransferRequest) error {
	if req.Amount == 0 {
		return vault.ErrInvalidAmount
	}
	if req.To.IsZero() {
		return ErrInvalidRecipient
	}

	view, err := s.engine.Get(ctx, req.VaultOwner)
	if err != nil {
		return err
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции реестра: %w", err)
	}
	defer tx.Rollback()

	source := ledger.AssociatedTokenAddress(from, view.Mint, ledger.Token2022ProgramID)
	err = tx.TransferChecked(view.Mint, source, req.To, req.Amount, ledger.UserSigner(from), view.Escrow)
	if err != nil {
		zap.S().Infof("[TokenService] Перевод %d расписок %s от %s к %s отклонен: %v",
			req.Amount, view.Mint, from, req.To, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции реестра: %w", err)
	}

	zap.S().Infof("[TokenService] Переведено %d расписок %s от %s к %s", req.Amount, view.Mint, from, req.To)
	return nil
}

// Кастомные ошибки сервиса.
var (
	ErrInvalidRecipient = errors.New("не указан получатель")
)
