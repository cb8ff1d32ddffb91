package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maynagashev/heirvault/internal/models"
	"go.uber.org/zap"
)

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolationCode = "23505"
)

// UserRepository определяет методы для работы с данными пользователей в хранилище.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
}

// postgresUserRepository реализует UserRepository для PostgreSQL.
type postgresUserRepository struct {
	db *sqlx.DB
}

// NewPostgresUserRepository создает новый экземпляр репозитория пользователей для PostgreSQL.
func NewPostgresUserRepository(db *sqlx.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

// CreateUser создает нового пользователя в базе данных.
// Возвращает ID созданного пользователя или ошибку.
func (r *postgresUserRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	query := `INSERT INTO users (username, password_hash, address) VALUES ($1, $2, $3) RETURNING id`
	var userID int64

	err := r.db.QueryRowxContext(ctx, query, user.Username, user.PasswordHash, user.Address).Scan(&userID)
	if err != nil {
		// Проверяем на ошибку нарушения уникальности (duplicate key)
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			zap.S().Infof("[Repo] Ошибка создания пользователя: имя пользователя '%s' уже занято", user.Username)
			return 0, ErrUsernameTaken // Возвращаем кастомную ошибку
		}
		zap.S().Errorf("[Repo] Непредвиденная ошибка при создании пользователя '%s': %v", user.Username, err)
		return 0, fmt.Errorf("ошибка выполнения запроса на создание пользователя: %w", err)
	}

	zap.S().Infof("[Repo] Пользователь '%s' успешно создан с ID %d", user.Username, userID)
	return userID, nil
}

// GetUserByUsername находит пользователя по его имени.
// Возвращает пользователя или ошибку, если пользователь не найден или произошла другая ошибка.
func (r *postgresUserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash, address, created_at, updated_at FROM users WHERE username=$1`
	return r.getUser(ctx, query, username)
}

// GetUserByID находит пользователя по ID (из JWT).
func (r *postgresUserRepository) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT id, username, password_hash, address, created_at, updated_at FROM users WHERE id=$1`
	return r.getUser(ctx, query, userID)
}

func (r *postgresUserRepository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User

	err := r.db.GetContext(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			zap.S().Infof("[Repo] Пользователь '%v' не найден", arg)
			return nil, ErrUserNotFound // Пользователь не найден
		}
		zap.S().Errorf("[Repo] Ошибка при поиске пользователя '%v': %v", arg, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение пользователя: %w", err)
	}

	return &user, nil
}

// MemoryUserRepository хранит пользователей в памяти (режим без БД).
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]models.User
}

var _ UserRepository = (*MemoryUserRepository)(nil)

// NewMemoryUserRepository создает пустой репозиторий пользователей в памяти.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]models.User)}
}

// CreateUser сохраняет пользователя, проверяя уникальность имени.
func (r *MemoryUserRepository) CreateUser(_ context.Context, user *models.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return 0, ErrUsernameTaken
		}
	}
	r.nextID++
	stored := *user
	stored.ID = r.nextID
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.users[stored.ID] = stored
	return stored.ID, nil
}

// GetUserByUsername находит пользователя по имени.
func (r *MemoryUserRepository) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByID находит пользователя по ID.
func (r *MemoryUserRepository) GetUserByID(_ context.Context, userID int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// Кастомные ошибки репозитория.
var (
	ErrUserNotFound  = errors.New("пользователь не найден")
	ErrUsernameTaken = errors.New("имя пользователя уже занято")
)
