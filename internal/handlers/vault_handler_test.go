package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/heirvault/internal/handlers"
	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/middleware"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/services"
	"github.com/maynagashev/heirvault/internal/storage"
	"github.com/maynagashev/heirvault/internal/vault"
)

// MockVaultService is a mock implementation of VaultService interface.
type MockVaultService struct {
	mock.Mock
}

func (m *MockVaultService) event(args mock.Arguments) (models.Event, error) {
	return args.Get(0).(models.Event), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVaultService) CreateVault(
	_ context.Context,
	owner ledger.Address,
	req models.CreateVaultRequest,
) (models.Event, error) {
	return m.event(m.Called(owner, req))
}

func (m *MockVaultService) Deposit(_ context.Context, caller ledger.Address, amount uint64) (models.Event, error) {
	return m.event(m.Called(caller, amount))
}

func (m *MockVaultService) Heartbeat(_ context.Context, caller, owner ledger.Address) (models.Event, error) {
	return m.event(m.Called(caller, owner))
}

func (m *MockVaultService) Redeem(_ context.Context, redeemer, owner ledger.Address, amount uint64) (models.Event, error) {
	return m.event(m.Called(redeemer, owner, amount))
}

func (m *MockVaultService) TriggerInheritance(_ context.Context, caller, owner ledger.Address) (models.Event, error) {
	return m.event(m.Called(caller, owner))
}

func (m *MockVaultService) GetVault(_ context.Context, owner ledger.Address) (*models.VaultView, error) {
	args := m.Called(owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VaultView), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVaultService) ListEvents(
	_ context.Context,
	owner ledger.Address,
	limit, offset int,
) ([]models.Event, error) {
	args := m.Called(owner, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Event), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVaultService) GetArchivedEvent(
	_ context.Context,
	owner ledger.Address,
	id uuid.UUID,
) (*models.Event, error) {
	args := m.Called(owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

var (
	testCaller = ledger.Address{1}
	testOwner  = ledger.Address{2}
)

// withTestUser подставляет аутентифицированного пользователя testCaller.
func withTestUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), 1, testCaller)))
	})
}

func setupVaultRouter(h *handlers.VaultHandler, authenticated bool) *chi.Mux {
	r := chi.NewRouter()
	if authenticated {
		r.Use(withTestUser)
	}
	r.Post("/vaults", h.Create)
	r.Post("/vaults/deposit", h.Deposit)
	r.Get("/vaults/{owner}", h.Get)
	r.Post("/vaults/{owner}/heartbeat", h.Heartbeat)
	r.Post("/vaults/{owner}/redeem", h.Redeem)
	r.Post("/vaults/{owner}/trigger", h.Trigger)
	r.Get("/vaults/{owner}/events", h.ListEvents)
	r.Get("/vaults/{owner}/events/{id}", h.GetArchivedEvent)
	return r
}

func TestVaultHandler_Create(t *testing.T) {
	body := fmt.Sprintf(`{"amount":100,"reward":5,"inactivity_window_seconds":3600,`+
		`"beneficiaries":[{"address":"%s","share_bps":10000}]}`, testOwner)
	expectedReq := models.CreateVaultRequest{
		Amount:                  100,
		Reward:                  5,
		InactivityWindowSeconds: 3600,
		Beneficiaries:           models.Beneficiaries{{Address: testOwner, ShareBps: 10_000}},
	}

	tests := []struct {
		name           string
		body           string
		mockErr        error
		mockCall       bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Успешное создание",
			body:           body,
			mockCall:       true,
			expectedStatus: http.StatusCreated,
			expectedBody:   `"kind":"initialized"`,
		},
		{
			name:           "Невалидный JSON",
			body:           `{"amount":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Неверный формат запроса",
		},
		{
			name:           "Хранилище уже есть",
			body:           body,
			mockCall:       true,
			mockErr:        vault.ErrAlreadyInitialized,
			expectedStatus: http.StatusConflict,
			expectedBody:   vault.ErrAlreadyInitialized.Error(),
		},
		{
			name:           "Невалидные наследники",
			body:           body,
			mockCall:       true,
			mockErr:        pkgerrors.Wrap(vault.ErrInvalidBeneficiaries, "сумма долей 12000 больше 10000 bps"),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "сумма долей",
		},
		{
			name:           "Недостаточно средств",
			body:           body,
			mockCall:       true,
			mockErr:        pkgerrors.Wrap(vault.ErrInsufficientFunds, "пополнение эскроу"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   vault.ErrInsufficientFunds.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockVaultService)
			r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)
			if tt.mockCall {
				mockService.On("CreateVault", testCaller, expectedReq).
					Return(models.Event{Kind: models.EventInitialized, Owner: testCaller}, tt.mockErr).Once()
			}

			req := httptest.NewRequest(http.MethodPost, "/vaults", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestVaultHandler_NoUserInContext(t *testing.T) {
	mockService := new(MockVaultService)
	r := setupVaultRouter(handlers.NewVaultHandler(mockService), false)

	req := httptest.NewRequest(http.MethodPost, "/vaults/deposit", strings.NewReader(`{"amount":1}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	mockService.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything)
}

func TestVaultHandler_Get(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	view := &models.VaultView{
		Vault:                   &models.Vault{Owner: testOwner, LockedAmount: 100, InactivityWindow: time.Hour},
		InactivityWindowSeconds: 3600,
		State:                   models.VaultStateExpired,
		ExpiresAt:               now,
		EscrowBalance:           100,
	}

	tests := []struct {
		name           string
		path           string
		mockSetup      func(m *MockVaultService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "Хранилище найдено",
			path: "/vaults/" + testOwner.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetVault", testOwner).Return(view, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"state":"expired"`,
		},
		{
			name: "Хранилище не найдено",
			path: "/vaults/" + testOwner.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetVault", testOwner).Return(nil, pkgerrors.Wrap(vault.ErrRecordNotFound, "владелец")).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   vault.ErrRecordNotFound.Error(),
		},
		{
			name:           "Неверный адрес",
			path:           "/vaults/not-base58-0OIl",
			mockSetup:      func(*MockVaultService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Неверный адрес владельца",
		},
		{
			name: "Внутренняя ошибка",
			path: "/vaults/" + testOwner.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetVault", testOwner).Return(nil, errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "Внутренняя ошибка сервера",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockVaultService)
			tt.mockSetup(mockService)
			r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			assert.NotContains(t, rr.Body.String(), "db down")
			mockService.AssertExpectations(t)
		})
	}
}

func TestVaultHandler_Operations(t *testing.T) {
	ownerPath := "/vaults/" + testOwner.String()

	tests := []struct {
		name           string
		path           string
		body           string
		mockSetup      func(m *MockVaultService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "Пополнение",
			path: "/vaults/deposit",
			body: `{"amount":10}`,
			mockSetup: func(m *MockVaultService) {
				m.On("Deposit", testCaller, uint64(10)).
					Return(models.Event{Kind: models.EventDeposit}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"kind":"deposit"`,
		},
		{
			name: "Пополнение без хранилища",
			path: "/vaults/deposit",
			body: `{"amount":10}`,
			mockSetup: func(m *MockVaultService) {
				m.On("Deposit", testCaller, uint64(10)).Return(models.Event{}, vault.ErrRecordNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Подтверждение активности чужого хранилища",
			path: ownerPath + "/heartbeat",
			mockSetup: func(m *MockVaultService) {
				m.On("Heartbeat", testCaller, testOwner).Return(models.Event{}, vault.ErrUnauthorized).Once()
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   vault.ErrUnauthorized.Error(),
		},
		{
			name: "Погашение",
			path: ownerPath + "/redeem",
			body: `{"amount":40}`,
			mockSetup: func(m *MockVaultService) {
				m.On("Redeem", testCaller, testOwner, uint64(40)).
					Return(models.Event{Kind: models.EventRedeem, Amount: 40}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"amount":40`,
		},
		{
			name:           "Погашение с невалидным телом",
			path:           ownerPath + "/redeem",
			body:           `{"amount":-1}`,
			mockSetup:      func(*MockVaultService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Преждевременное наследование",
			path: ownerPath + "/trigger",
			mockSetup: func(m *MockVaultService) {
				m.On("TriggerInheritance", testCaller, testOwner).
					Return(models.Event{}, vault.ErrVaultStillActive).Once()
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   vault.ErrVaultStillActive.Error(),
		},
		{
			name: "Наследование без делегата",
			path: ownerPath + "/trigger",
			mockSetup: func(m *MockVaultService) {
				m.On("TriggerInheritance", testCaller, testOwner).
					Return(models.Event{}, vault.ErrMissingDelegate).Once()
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "Наследование",
			path: ownerPath + "/trigger",
			mockSetup: func(m *MockVaultService) {
				m.On("TriggerInheritance", testCaller, testOwner).
					Return(models.Event{Kind: models.EventInheritanceTriggered}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"kind":"inheritance_triggered"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockVaultService)
			tt.mockSetup(mockService)
			r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestVaultHandler_ListEvents(t *testing.T) {
	events := []models.Event{{ID: uuid.New(), Kind: models.EventHeartbeat, Owner: testOwner}}

	tests := []struct {
		name           string
		query          string
		expectedLimit  int
		expectedOffset int
	}{
		{name: "Параметры по умолчанию", query: "", expectedLimit: 20, expectedOffset: 0},
		{name: "Явные параметры", query: "?limit=5&offset=10", expectedLimit: 5, expectedOffset: 10},
		{name: "Некорректные параметры", query: "?limit=1000&offset=-3", expectedLimit: 20, expectedOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockVaultService)
			mockService.On("ListEvents", testOwner, tt.expectedLimit, tt.expectedOffset).Return(events, nil).Once()
			r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vaults/"+testOwner.String()+"/events"+tt.query, nil))

			require.Equal(t, http.StatusOK, rr.Code)
			var got []models.Event
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, events[0].ID, got[0].ID)
			mockService.AssertExpectations(t)
		})
	}
}

func TestVaultHandler_GetArchivedEvent(t *testing.T) {
	id := uuid.New()
	basePath := "/vaults/" + testOwner.String() + "/events/"

	tests := []struct {
		name           string
		path           string
		mockSetup      func(m *MockVaultService)
		expectedStatus int
	}{
		{
			name: "Событие найдено",
			path: basePath + id.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetArchivedEvent", testOwner, id).Return(&models.Event{ID: id}, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Нет в архиве",
			path: basePath + id.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetArchivedEvent", testOwner, id).Return(nil, storage.ErrObjectNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Архив не настроен",
			path: basePath + id.String(),
			mockSetup: func(m *MockVaultService) {
				m.On("GetArchivedEvent", testOwner, id).Return(nil, services.ErrArchiveDisabled).Once()
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Неверный ID",
			path:           basePath + "42",
			mockSetup:      func(*MockVaultService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockVaultService)
			tt.mockSetup(mockService)
			r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestVaultHandler_PolicyErrors(t *testing.T) {
	// Отказы политики переводов не меняют состояние и возвращают конфликт.
	for _, policyErr := range []error{policy.ErrInvalidDestination, policy.ErrInvalidDelegate} {
		mockService := new(MockVaultService)
		mockService.On("Redeem", testCaller, testOwner, uint64(1)).
			Return(models.Event{}, pkgerrors.Wrap(policyErr, "перевод отклонен хуком")).Once()
		r := setupVaultRouter(handlers.NewVaultHandler(mockService), true)

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/vaults/"+testOwner.String()+"/redeem",
			strings.NewReader(`{"amount":1}`)))
		assert.Equal(t, http.StatusConflict, rr.Code)
	}
}
