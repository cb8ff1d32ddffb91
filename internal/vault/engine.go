// Package vault реализует жизненный цикл хранилища с "переключателем мертвеца":
// создание, пополнение, подтверждение активности, погашение и наследование.
//
// Каждая операция выполняется как одна единица работы: блокировка владельца,
// транзакция реестра, одно применение изменений в репозитории. Ошибка на любом
// шаге до фиксации реестра откатывает все изменения.
package vault

import (
	"context"
	"crypto/sha256"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// EscrowSeed - метка, из которой вместе с адресом владельца выводится адрес эскроу.
const EscrowSeed = "vault-sol"

// MaxBeneficiaries - максимальный размер таблицы наследников.
const MaxBeneficiaries = 32

// MaxAmount - наибольшая сумма операции. Суммы хранятся в колонках BIGINT.
const MaxAmount = math.MaxInt64

// DefaultProgramID - адрес программы хранилищ по умолчанию.
var DefaultProgramID = ledger.Address(sha256.Sum256([]byte("heirvault:vault_manager")))

// EventPublisher получает копии событий после фиксации операции.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

// Engine выполняет операции над хранилищами.
type Engine struct {
	ledger    ledger.Ledger
	repo      repository.VaultRepository
	programID ledger.Address
	now       func() time.Time
	policy    DistributionPolicy
	publisher EventPublisher
	locks     *keyedMutex
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock задает источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithProgramID задает адрес программы, от которого выводятся адреса эскроу.
func WithProgramID(id ledger.Address) Option {
	return func(e *Engine) {
		e.programID = id
	}
}

// WithDistributionPolicy задает способ округления долей при наследовании.
func WithDistributionPolicy(p DistributionPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithEventPublisher подключает архив событий.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// New создает движок хранилищ.
func New(l ledger.Ledger, repo repository.VaultRepository, opts ...Option) *Engine {
	e := &Engine{
		ledger:    l,
		repo:      repo,
		programID: DefaultProgramID,
		now:       time.Now,
		policy:    DistributeTruncate,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProgramID возвращает адрес программы хранилищ.
func (e *Engine) ProgramID() ledger.Address {
	return e.programID
}

// EscrowAddress выводит адрес эскроу владельца и bump.
// Этот же адрес - управляющий адрес хранилища: владелец минта и делегат токен-аккаунта.
func EscrowAddress(program, owner ledger.Address) (ledger.Address, uint8, error) {
	return ledger.FindProgramAddress(program, []byte(EscrowSeed), owner[:])
}

// escrowSigner восстанавливает подпись за эскроу из данных записи.
func (e *Engine) escrowSigner(v *models.Vault) ledger.ProgramSigner {
	return ledger.ProgramSigner{
		Program: e.programID,
		Seeds:   [][]byte{[]byte(EscrowSeed), v.Owner[:], {v.EscrowBump}},
	}
}

// State возвращает состояние хранилища на момент now.
func State(v *models.Vault, now time.Time) models.VaultState {
	return v.State(now)
}

// stageFunc выполняет изменения реестра внутри транзакции и возвращает изменение записи.
type stageFunc func(tx ledger.Tx, now time.Time) (repository.VaultChange, error)

// run выполняет операцию как одну единицу работы.
func (e *Engine) run(ctx context.Context, operation string, key ledger.Address, stage stageFunc) (models.Event, error) {
	event, err := e.runLocked(ctx, key, stage)
	observeResult(operation, err)
	if err != nil {
		zap.S().Infof("[Vault] Операция %s для %s отклонена: %v", operation, key, err)
		return models.Event{}, err
	}

	zap.S().Infof("[Vault] Операция %s для %s выполнена, событие %s", operation, key, event.ID)
	observeEvent(event)
	e.publish(ctx, event)
	return event, nil
}

func (e *Engine) runLocked(ctx context.Context, key ledger.Address, stage stageFunc) (models.Event, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	now := e.now()

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return models.Event{}, errors.Wrap(err, "начало транзакции реестра")
	}
	defer tx.Rollback()

	change, err := stage(tx, now)
	if err != nil {
		return models.Event{}, err
	}
	if change.Event == nil {
		return models.Event{}, errors.New("операция не сформировала событие")
	}

	if err = e.repo.Apply(ctx, change); err != nil {
		return models.Event{}, errors.Wrap(err, "сохранение изменений хранилища")
	}
	// После успешного Apply фиксация реестра в памяти не может завершиться ошибкой.
	if err = tx.Commit(); err != nil {
		zap.S().Errorf("[Vault] Запись сохранена, но реестр не зафиксирован: %v", err)
		return models.Event{}, errors.Wrap(err, "фиксация транзакции реестра")
	}
	return *change.Event, nil
}

func (e *Engine) publish(ctx context.Context, event models.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishEvent(ctx, event); err != nil {
		zap.S().Warnf("[Vault] Не удалось отправить событие %s в архив: %v", event.ID, err)
	}
}

// loadVault читает запись владельца, переводя отсутствие записи в ErrRecordNotFound.
func (e *Engine) loadVault(ctx context.Context, owner ledger.Address) (*models.Vault, error) {
	v, err := e.repo.GetVaultByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, repository.ErrVaultNotFound) {
			return nil, errors.Wrapf(ErrRecordNotFound, "владелец %s", owner)
		}
		return nil, errors.Wrap(err, "чтение записи хранилища")
	}
	return v, nil
}

// Get возвращает запись хранилища вместе с вычисляемыми полями.
func (e *Engine) Get(ctx context.Context, owner ledger.Address) (*models.VaultView, error) {
	v, err := e.loadVault(ctx, owner)
	if err != nil {
		return nil, err
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "начало транзакции реестра")
	}
	balance := tx.Balance(v.Escrow)
	tx.Rollback()

	now := e.now()
	return &models.VaultView{
		Vault:                   v,
		InactivityWindowSeconds: int64(v.InactivityWindow / time.Second),
		State:                   State(v, now),
		ExpiresAt:               v.ExpiresAt(),
		EscrowBalance:           balance,
	}, nil
}

func newEvent(kind models.EventKind, owner, escrow, actor ledger.Address, amount uint64, now time.Time) *models.Event {
	return &models.Event{
		ID:        uuid.New(),
		Kind:      kind,
		Owner:     owner,
		Vault:     escrow,
		Actor:     actor,
		Amount:    amount,
		Timestamp: now,
	}
}

// closeIfDrained закрывает эскроу, если баланс не выше минимального.
// Перед закрытием payout выплачивает остаток наследникам. Возвращает уничтоженный остаток.
func (e *Engine) closeIfDrained(
	tx ledger.Tx,
	v *models.Vault,
	payout func(remaining uint64) ([]models.Payout, error),
	details *models.EventDetails,
) (bool, error) {
	signer := e.escrowSigner(v)
	remaining := tx.Balance(v.Escrow)
	if remaining > tx.RentExemptMinimum(0) {
		return false, nil
	}

	if payout != nil {
		payouts, err := payout(remaining)
		if err != nil {
			return false, err
		}
		details.Payouts = append(details.Payouts, payouts...)
	}

	dust, err := tx.Close(v.Escrow, signer)
	if err != nil {
		return false, errors.Wrap(err, "закрытие эскроу")
	}
	details.Dust = dust
	details.Closed = true
	return true, nil
}

// payAll переводит выплаты с эскроу. Нулевые выплаты пропускаются.
func (e *Engine) payAll(tx ledger.Tx, v *models.Vault, payouts []models.Payout) error {
	signer := e.escrowSigner(v)
	for _, p := range payouts {
		if p.Amount == 0 {
			continue
		}
		if err := tx.Transfer(v.Escrow, p.Address, p.Amount, signer); err != nil {
			return errors.Wrapf(err, "выплата %d наследнику %s", p.Amount, p.Address)
		}
	}
	return nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
