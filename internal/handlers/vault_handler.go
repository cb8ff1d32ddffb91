package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/services"
)

// VaultHandler обрабатывает HTTP-запросы, связанные с хранилищем.
type VaultHandler struct {
	vaultService services.VaultService
}

// NewVaultHandler создает новый экземпляр VaultHandler.
func NewVaultHandler(vs services.VaultService) *VaultHandler {
	return &VaultHandler{vaultService: vs}
}

// Create обрабатывает POST запрос на создание хранилища текущего пользователя.
func (h *VaultHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAddress(w, r, "VaultHandler:Create")
	if !ok {
		return
	}
	var req models.CreateVaultRequest
	if !decodeJSON(w, r, "VaultHandler:Create", &req) {
		return
	}

	zap.S().Infof("[VaultHandler:Create] Создание хранилища владельца %s на %d", owner, req.Amount)

	event, err := h.vaultService.CreateVault(r.Context(), owner, req)
	if err != nil {
		writeError(w, "VaultHandler:Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Get обрабатывает GET запрос на получение записи хранилища.
func (h *VaultHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	view, err := h.vaultService.GetVault(r.Context(), owner)
	if err != nil {
		writeError(w, "VaultHandler:Get", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Deposit обрабатывает POST запрос на пополнение собственного эскроу.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentAddress(w, r, "VaultHandler:Deposit")
	if !ok {
		return
	}
	var req models.AmountRequest
	if !decodeJSON(w, r, "VaultHandler:Deposit", &req) {
		return
	}

	event, err := h.vaultService.Deposit(r.Context(), caller, req.Amount)
	if err != nil {
		writeError(w, "VaultHandler:Deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Heartbeat обрабатывает POST запрос на подтверждение активности.
func (h *VaultHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentAddress(w, r, "VaultHandler:Heartbeat")
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	event, err := h.vaultService.Heartbeat(r.Context(), caller, owner)
	if err != nil {
		writeError(w, "VaultHandler:Heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Redeem обрабатывает POST запрос на погашение расписок.
func (h *VaultHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	redeemer, ok := currentAddress(w, r, "VaultHandler:Redeem")
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	var req models.AmountRequest
	if !decodeJSON(w, r, "VaultHandler:Redeem", &req) {
		return
	}

	event, err := h.vaultService.Redeem(r.Context(), redeemer, owner, req.Amount)
	if err != nil {
		writeError(w, "VaultHandler:Redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Trigger обрабатывает POST запрос на запуск наследования. Доступен любому пользователю.
func (h *VaultHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentAddress(w, r, "VaultHandler:Trigger")
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	event, err := h.vaultService.TriggerInheritance(r.Context(), caller, owner)
	if err != nil {
		writeError(w, "VaultHandler:Trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListEvents обрабатывает GET запрос на получение журнала событий.
func (h *VaultHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	events, err := h.vaultService.ListEvents(r.Context(), owner, limit, offset)
	if err != nil {
		writeError(w, "VaultHandler:ListEvents", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetArchivedEvent обрабатывает GET запрос на получение копии события из архива.
func (h *VaultHandler) GetArchivedEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Неверный ID события", http.StatusBadRequest)
		return
	}

	event, err := h.vaultService.GetArchivedEvent(r.Context(), owner, id)
	if err != nil {
		writeError(w, "VaultHandler:GetArchivedEvent", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
