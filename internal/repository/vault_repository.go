package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"go.uber.org/zap"
)

// ChangeOp - действие над записью хранилища в рамках VaultChange.
type ChangeOp int

// Действия над записью.
const (
	OpNone ChangeOp = iota
	OpCreate
	OpUpdate
	OpDelete
)

// VaultChange - изменения одной операции: запись хранилища и событие.
// Применяется целиком в одной транзакции БД.
type VaultChange struct {
	Op    ChangeOp
	Vault *models.Vault
	Event *models.Event
}

// VaultRepository определяет методы для работы с записями хранилищ и журналом событий.
type VaultRepository interface {
	GetVaultByOwner(ctx context.Context, owner ledger.Address) (*models.Vault, error)
	Apply(ctx context.Context, change VaultChange) error
	ListEvents(ctx context.Context, owner ledger.Address, limit, offset int) ([]models.Event, error)
}

// postgresVaultRepository реализует VaultRepository для PostgreSQL.
type postgresVaultRepository struct {
	db *sqlx.DB
}

// NewPostgresVaultRepository создает новый экземпляр репозитория хранилищ.
func NewPostgresVaultRepository(db *sqlx.DB) VaultRepository {
	return &postgresVaultRepository{db: db}
}

const vaultColumns = `owner, escrow, mint, escrow_bump, locked_amount, reward_amount, last_active_at,
	inactivity_window_ns, beneficiaries, created_at, updated_at`

// GetVaultByOwner находит запись хранилища по владельцу.
// Возвращает запись или ошибку (включая ErrVaultNotFound).
func (r *postgresVaultRepository) GetVaultByOwner(ctx context.Context, owner ledger.Address) (*models.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner=$1`
	var vault models.Vault

	err := r.db.GetContext(ctx, &vault, query, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			zap.S().Debugf("[VaultRepo] Хранилище владельца %s не найдено", owner)
			return nil, ErrVaultNotFound
		}
		zap.S().Errorf("[VaultRepo] Ошибка при поиске хранилища владельца %s: %v", owner, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение хранилища: %w", err)
	}

	return &vault, nil
}

// Apply применяет изменение записи и добавляет событие в одной транзакции.
func (r *postgresVaultRepository) Apply(ctx context.Context, change VaultChange) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		// После Commit откат возвращает sql.ErrTxDone, его не логируем
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			zap.S().Warnf("[VaultRepo] Ошибка отката транзакции: %v", rbErr)
		}
	}()

	if err = applyVaultOp(ctx, tx, change); err != nil {
		return err
	}

	if change.Event != nil {
		if err = insertEvent(ctx, tx, change.Event); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func applyVaultOp(ctx context.Context, tx *sqlx.Tx, change VaultChange) error {
	if change.Op == OpNone {
		return nil
	}
	if change.Vault == nil {
		return errors.New("изменение хранилища без записи")
	}
	v := change.Vault

	switch change.Op {
	case OpCreate:
		query := `INSERT INTO vaults (` + vaultColumns + `)
		          VALUES (:owner, :escrow, :mint, :escrow_bump, :locked_amount, :reward_amount, :last_active_at,
		                  :inactivity_window_ns, :beneficiaries, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, v); err != nil {
			var pgErr *pq.Error
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
				zap.S().Infof("[VaultRepo] Хранилище владельца %s уже существует", v.Owner)
				return ErrVaultExists
			}
			return fmt.Errorf("ошибка выполнения запроса на создание хранилища: %w", err)
		}
		zap.S().Infof("[VaultRepo] Хранилище владельца %s создано", v.Owner)
	case OpUpdate:
		query := `UPDATE vaults SET locked_amount=:locked_amount, reward_amount=:reward_amount,
		          last_active_at=:last_active_at, beneficiaries=:beneficiaries, updated_at=:updated_at
		          WHERE owner=:owner`
		res, err := tx.NamedExecContext(ctx, query, v)
		if err != nil {
			return fmt.Errorf("ошибка выполнения запроса на обновление хранилища: %w", err)
		}
		if err = expectOneRow(res); err != nil {
			return err
		}
	case OpDelete:
		res, err := tx.ExecContext(ctx, `DELETE FROM vaults WHERE owner=$1`, v.Owner)
		if err != nil {
			return fmt.Errorf("ошибка выполнения запроса на удаление хранилища: %w", err)
		}
		if err = expectOneRow(res); err != nil {
			return err
		}
		zap.S().Infof("[VaultRepo] Хранилище владельца %s закрыто и удалено", v.Owner)
	default:
		return fmt.Errorf("неизвестное действие над хранилищем: %d", change.Op)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rows == 0 {
		return ErrVaultNotFound
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, event *models.Event) error {
	query := `INSERT INTO vault_events (id, kind, owner, vault, actor, amount, details, created_at)
	          VALUES (:id, :kind, :owner, :vault, :actor, :amount, :details, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("ошибка выполнения запроса на запись события: %w", err)
	}
	return nil
}

// ListEvents возвращает события хранилища владельца, сначала новые.
func (r *postgresVaultRepository) ListEvents(
	ctx context.Context,
	owner ledger.Address,
	limit,
	offset int,
) ([]models.Event, error) {
	query := `SELECT id, kind, owner, vault, actor, amount, details, created_at
	          FROM vault_events
	          WHERE owner=$1
	          ORDER BY created_at DESC
	          LIMIT $2 OFFSET $3`

	events := make([]models.Event, 0, limit)
	if err := r.db.SelectContext(ctx, &events, query, owner, limit, offset); err != nil {
		zap.S().Errorf("[VaultRepo] Ошибка при получении событий владельца %s: %v", owner, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение событий: %w", err)
	}
	return events, nil
}

// Кастомные ошибки репозитория.
var (
	ErrVaultNotFound = errors.New("хранилище не найдено")
	ErrVaultExists   = errors.New("хранилище уже существует")
)
