package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/middleware"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/services"
	"github.com/maynagashev/heirvault/internal/storage"
	"github.com/maynagashev/heirvault/internal/vault"
)

// writeJSON отправляет v в JSON с заданным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Warnf("[Handlers] Ошибка кодирования ответа: %v", err)
	}
}

// errorStatus сопоставляет ошибку сервисного слоя HTTP статусу.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, vault.ErrRecordNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrMintNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, services.ErrArchiveDisabled):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, ledger.ErrOwnerMismatch):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrVaultStillActive),
		errors.Is(err, vault.ErrMissingDelegate),
		errors.Is(err, vault.ErrAlreadyInitialized),
		errors.Is(err, policy.ErrInvalidDestination),
		errors.Is(err, policy.ErrInvalidDelegate),
		errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidWindow),
		errors.Is(err, vault.ErrInvalidBeneficiaries),
		errors.Is(err, vault.ErrInvalidMint),
		errors.Is(err, services.ErrInvalidRecipient),
		errors.Is(err, services.ErrEmptyCredentials):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError отправляет ошибку. Текст внутренних ошибок клиенту не раскрывается.
func writeError(w http.ResponseWriter, component string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		zap.S().Errorf("[%s] Внутренняя ошибка: %v", component, err)
		http.Error(w, "Внутренняя ошибка сервера", status)
		return
	}
	zap.S().Infof("[%s] Запрос отклонен (%d): %v", component, status, err)
	http.Error(w, err.Error(), status)
}

// currentAddress возвращает адрес аутентифицированного пользователя.
func currentAddress(w http.ResponseWriter, r *http.Request, component string) (ledger.Address, bool) {
	addr, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		zap.S().Errorf("[%s] Не удалось получить адрес пользователя из контекста", component)
		http.Error(w, "Внутренняя ошибка сервера", http.StatusInternalServerError)
	}
	return addr, ok
}

// ownerParam разбирает адрес владельца из URL.
func ownerParam(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	owner, err := ledger.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		http.Error(w, "Неверный адрес владельца", http.StatusBadRequest)
		return ledger.Address{}, false
	}
	return owner, true
}

// decodeJSON читает тело запроса в v.
func decodeJSON(w http.ResponseWriter, r *http.Request, component string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		zap.S().Infof("[%s] Ошибка декодирования запроса: %v", component, err)
		http.Error(w, "Неверный формат запроса", http.StatusBadRequest)
		return false
	}
	return true
}

// pagination читает limit и offset. Некорректные значения заменяются значениями по умолчанию.
func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > services.MaxEventsLimit {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
