package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/services"
)

// AuthHandler обрабатывает HTTP-запросы, связанные с аутентификацией.
type AuthHandler struct {
	service services.AuthService
}

// NewAuthHandler создает новый экземпляр AuthHandler.
func NewAuthHandler(s services.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

// Register обрабатывает запрос на регистрацию нового пользователя.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, "AuthHandler", &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Имя пользователя и пароль не могут быть пустыми", http.StatusBadRequest)
		return
	}

	zap.S().Infof("[AuthHandler] Попытка регистрации пользователя: %s", req.Username)

	user, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, "AuthHandler", err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login обрабатывает запрос на вход пользователя.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, "AuthHandler", &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Имя пользователя и пароль не могут быть пустыми", http.StatusBadRequest)
		return
	}

	token, addr, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, "AuthHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, Address: addr})
}
