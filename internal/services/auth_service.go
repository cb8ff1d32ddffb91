package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// AuthService определяет интерфейс для сервиса аутентификации.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	// Login возвращает JWT токен и кастодиальный адрес пользователя.
	Login(ctx context.Context, username, password string) (string, ledger.Address, error)
}

// DefaultTokenTTL - время жизни токена по умолчанию.
const DefaultTokenTTL = time.Hour * 24

const tokenIssuer = "heirvault-server"

// Claims - пользовательские данные в JWT.
type Claims struct {
	UserID  int64          `json:"user_id"`
	Address ledger.Address `json:"address"`
	jwt.RegisteredClaims
}

// Faucet зачисляет стартовые лампорты новым пользователям (реестр в памяти).
type Faucet interface {
	Airdrop(ctx context.Context, addr ledger.Address, lamports uint64) error
}

// AuthConfig содержит параметры сервиса аутентификации.
type AuthConfig struct {
	JWTSecret []byte
	TokenTTL  time.Duration
	// Faucet и AirdropLamports включают начисление при регистрации.
	Faucet          Faucet
	AirdropLamports uint64
}

// Убедимся, что authService удовлетворяет интерфейсу AuthService.
var _ AuthService = (*authService)(nil)

type authService struct {
	userRepo repository.UserRepository
	cfg      AuthConfig
	now      func() time.Time
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(userRepo repository.UserRepository, cfg AuthConfig) AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &authService{userRepo: userRepo, cfg: cfg, now: time.Now}
}

// Register регистрирует нового пользователя и выдает ему адрес в реестре.
func (s *authService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrEmptyCredentials
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		zap.S().Errorf("[AuthService] Ошибка хеширования пароля для '%s': %v", username, err)
		return nil, errors.New("внутренняя ошибка сервера при хешировании пароля")
	}

	addr, err := ledger.NewAddress()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации адреса: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		Address:      addr,
	}

	user.ID, err = s.userRepo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			zap.S().Infof("[AuthService] Попытка регистрации с занятым именем: %s", username)
			return nil, ErrUsernameTaken
		}
		zap.S().Errorf("[AuthService] Непредвиденная ошибка репозитория при регистрации '%s': %v", username, err)
		return nil, errors.New("внутренняя ошибка сервера при создании пользователя")
	}

	if s.cfg.Faucet != nil && s.cfg.AirdropLamports > 0 {
		// Пользователь уже создан, поэтому ошибка начисления не отменяет регистрацию.
		if err = s.cfg.Faucet.Airdrop(ctx, addr, s.cfg.AirdropLamports); err != nil {
			zap.S().Warnf("[AuthService] Не удалось начислить лампорты пользователю '%s': %v", username, err)
		}
	}

	zap.S().Infof("[AuthService] Пользователь '%s' зарегистрирован, адрес %s", username, addr)
	return user, nil
}

// Login аутентифицирует пользователя и возвращает JWT токен.
func (s *authService) Login(ctx context.Context, username, password string) (string, ledger.Address, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			zap.S().Infof("[AuthService] Попытка входа несуществующего пользователя: %s", username)
			return "", ledger.Address{}, ErrInvalidCredentials
		}
		zap.S().Errorf("[AuthService] Ошибка репозитория при поиске '%s': %v", username, err)
		return "", ledger.Address{}, errors.New("внутренняя ошибка сервера при поиске пользователя")
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		zap.S().Infof("[AuthService] Неверный пароль для пользователя: %s", username)
		return "", ledger.Address{}, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		zap.S().Errorf("[AuthService] Ошибка генерации JWT для '%s': %v", username, err)
		return "", ledger.Address{}, errors.New("внутренняя ошибка сервера при генерации токена")
	}

	zap.S().Infof("[AuthService] Пользователь '%s' успешно аутентифицирован", username)
	return token, user.Address, nil
}

// generateJWT создает и подписывает JWT токен для пользователя.
func (s *authService) generateJWT(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:  user.ID,
		Address: user.Address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.cfg.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	return signedToken, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает его claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Кастомные ошибки сервиса.
var (
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	ErrUsernameTaken      = errors.New("имя пользователя уже занято")
	ErrEmptyCredentials   = errors.New("имя пользователя и пароль не могут быть пустыми")
	ErrInvalidToken       = errors.New("невалидный токен")
)
