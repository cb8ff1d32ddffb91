package handlers

import (
	"net/http"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/services"
)

// TokenHandler обрабатывает запросы к аккаунту пользователя и переводы расписок.
type TokenHandler struct {
	tokens services.TokenService
}

// NewTokenHandler создает новый экземпляр TokenHandler.
func NewTokenHandler(ts services.TokenService) *TokenHandler {
	return &TokenHandler{tokens: ts}
}

// Account обрабатывает GET запрос на получение балансов.
// Параметры vault добавляют расписки чужих хранилищ.
func (h *TokenHandler) Account(w http.ResponseWriter, r *http.Request) {
	addr, ok := currentAddress(w, r, "TokenHandler:Account")
	if !ok {
		return
	}

	var owners []ledger.Address
	for _, raw := range r.URL.Query()["vault"] {
		owner, err := ledger.ParseAddress(raw)
		if err != nil {
			http.Error(w, "Неверный адрес хранилища", http.StatusBadRequest)
			return
		}
		owners = append(owners, owner)
	}

	account, err := h.tokens.GetAccount(r.Context(), addr, owners...)
	if err != nil {
		writeError(w, "TokenHandler:Account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Transfer обрабатывает POST запрос на перевод расписок.
func (h *TokenHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	from, ok := currentAddress(w, r, "TokenHandler:Transfer")
	if !ok {
		return
	}
	var req models.TokenTransferRequest
	if !decodeJSON(w, r, "TokenHandler:Transfer", &req) {
		return
	}

	if err := h.tokens.Transfer(r.Context(), from, req); err != nil {
		writeError(w, "TokenHandler:Transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
