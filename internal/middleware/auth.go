package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/services"
)

// Тип для ключа контекста.
type contextKey string

// Ключи для хранения данных пользователя в контексте.
const (
	UserIDKey  contextKey = "userID"
	AddressKey contextKey = "address"
)

// NewAuthenticator возвращает middleware, проверяющий JWT токен, подписанный secret.
func NewAuthenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				zap.S().Debug("[AuthMiddleware] Заголовок Authorization отсутствует")
				http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
				return
			}

			// Проверяем формат "Bearer token"
			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
				zap.S().Infof("[AuthMiddleware] Неверный формат заголовка Authorization")
				http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
				return
			}

			claims, err := services.ParseToken(secret, headerParts[1])
			if err != nil {
				zap.S().Infof("[AuthMiddleware] Ошибка парсинга/валидации токена: %v", err)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}
			if claims.Address.IsZero() {
				zap.S().Infof("[AuthMiddleware] В токене пользователя %d нет адреса", claims.UserID)
				http.Error(w, "Невалидный токен", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, AddressKey, claims.Address)

			zap.S().Debugf("[AuthMiddleware] Пользователь %d успешно аутентифицирован", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext извлекает UserID из контекста запроса.
// Возвращает ID пользователя и true, если ID найден, иначе 0 и false.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetAddressFromContext извлекает адрес пользователя в реестре из контекста запроса.
func GetAddressFromContext(ctx context.Context) (ledger.Address, bool) {
	addr, ok := ctx.Value(AddressKey).(ledger.Address)
	return addr, ok
}

// WithUser добавляет данные пользователя в контекст. Используется в тестах обработчиков.
func WithUser(ctx context.Context, userID int64, addr ledger.Address) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, AddressKey, addr)
}
