// Package api содержит HTTP-клиент сервера HeirVault.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client определяет интерфейс для взаимодействия с API сервера HeirVault.
type Client interface {
	// Register регистрирует нового пользователя.
	Register(ctx context.Context, username, password string) (*models.User, error)
	// Login аутентифицирует пользователя, сохраняет и возвращает JWT токен.
	Login(ctx context.Context, username, password string) (string, ledger.Address, error)
	// SetAuthToken устанавливает JWT токен для аутентифицированных запросов.
	SetAuthToken(token string)

	CreateVault(ctx context.Context, req models.CreateVaultRequest) (*models.Event, error)
	GetVault(ctx context.Context, owner ledger.Address) (*models.VaultView, error)
	Deposit(ctx context.Context, amount uint64) (*models.Event, error)
	Heartbeat(ctx context.Context, owner ledger.Address) (*models.Event, error)
	Redeem(ctx context.Context, owner ledger.Address, amount uint64) (*models.Event, error)
	TriggerInheritance(ctx context.Context, owner ledger.Address) (*models.Event, error)
	ListEvents(ctx context.Context, owner ledger.Address, limit, offset int) ([]models.Event, error)
	GetArchivedEvent(ctx context.Context, owner ledger.Address, id uuid.UUID) (*models.Event, error)

	// GetAccount возвращает балансы текущего пользователя, включая расписки хранилищ vaultOwners.
	GetAccount(ctx context.Context, vaultOwners ...ledger.Address) (*models.AccountResponse, error)
	// Transfer переводит токены-расписки.
	Transfer(ctx context.Context, req models.TokenTransferRequest) error
}

// StatusError - ответ сервера с кодом ошибки.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("статус %d", e.StatusCode)
	}
	return fmt.Sprintf("статус %d: %s", e.StatusCode, e.Message)
}

// Unwrap позволяет проверять типовые ответы через errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthorization
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}

// httpClient реализует интерфейс Client для взаимодействия с сервером по HTTP.
type httpClient struct {
	baseURL    string       // Базовый URL сервера, например "http://localhost:8443"
	httpClient *http.Client // HTTP клиент для выполнения запросов
	authToken  string       // JWT токен для аутентифицированных запросов
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string) Client {
	return NewHTTPClientWith(baseURL, &http.Client{Timeout: defaultTimeout})
}

// NewHTTPClientWith создает клиент поверх заданного http.Client (например, с настройками TLS).
func NewHTTPClientWith(baseURL string, hc *http.Client) Client {
	return &httpClient{baseURL: baseURL, httpClient: hc}
}

func (c *httpClient) SetAuthToken(token string) {
	c.authToken = token
}

// Register отправляет запрос на регистрацию на сервер.
func (c *httpClient) Register(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	req := models.RegisterRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/register", nil, req, false, &user); err != nil {
		return nil, fmt.Errorf("ошибка регистрации: %w", err)
	}
	return &user, nil
}

// Login отправляет запрос на вход на сервер и сохраняет токен.
func (c *httpClient) Login(ctx context.Context, username, password string) (string, ledger.Address, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, req, false, &resp); err != nil {
		return "", ledger.Address{}, fmt.Errorf("ошибка входа: %w", err)
	}
	if resp.Token == "" {
		return "", ledger.Address{}, errors.New("сервер вернул пустой токен")
	}

	// Сохраняем токен в клиенте для последующих запросов
	c.authToken = resp.Token
	return resp.Token, resp.Address, nil
}

func (c *httpClient) CreateVault(ctx context.Context, req models.CreateVaultRequest) (*models.Event, error) {
	return c.event(ctx, "/api/vaults", req, "создания хранилища")
}

func (c *httpClient) GetVault(ctx context.Context, owner ledger.Address) (*models.VaultView, error) {
	var view models.VaultView
	if err := c.do(ctx, http.MethodGet, vaultPath(owner), nil, nil, true, &view); err != nil {
		return nil, fmt.Errorf("ошибка получения хранилища: %w", err)
	}
	return &view, nil
}

func (c *httpClient) Deposit(ctx context.Context, amount uint64) (*models.Event, error) {
	return c.event(ctx, "/api/vaults/deposit", models.AmountRequest{Amount: amount}, "пополнения")
}

func (c *httpClient) Heartbeat(ctx context.Context, owner ledger.Address) (*models.Event, error) {
	return c.event(ctx, vaultPath(owner, "heartbeat"), nil, "подтверждения активности")
}

func (c *httpClient) Redeem(ctx context.Context, owner ledger.Address, amount uint64) (*models.Event, error) {
	return c.event(ctx, vaultPath(owner, "redeem"), models.AmountRequest{Amount: amount}, "погашения")
}

func (c *httpClient) TriggerInheritance(ctx context.Context, owner ledger.Address) (*models.Event, error) {
	return c.event(ctx, vaultPath(owner, "trigger"), nil, "запуска наследования")
}

func (c *httpClient) ListEvents(
	ctx context.Context,
	owner ledger.Address,
	limit, offset int,
) ([]models.Event, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var events []models.Event
	if err := c.do(ctx, http.MethodGet, vaultPath(owner, "events"), query, nil, true, &events); err != nil {
		return nil, fmt.Errorf("ошибка получения журнала событий: %w", err)
	}
	return events, nil
}

func (c *httpClient) GetArchivedEvent(
	ctx context.Context,
	owner ledger.Address,
	id uuid.UUID,
) (*models.Event, error) {
	var event models.Event
	if err := c.do(ctx, http.MethodGet, vaultPath(owner, "events", id.String()), nil, nil, true, &event); err != nil {
		return nil, fmt.Errorf("ошибка получения события из архива: %w", err)
	}
	return &event, nil
}

func (c *httpClient) GetAccount(ctx context.Context, vaultOwners ...ledger.Address) (*models.AccountResponse, error) {
	query := url.Values{}
	for _, owner := range vaultOwners {
		query.Add("vault", owner.String())
	}

	var account models.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/account", query, nil, true, &account); err != nil {
		return nil, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}
	return &account, nil
}

func (c *httpClient) Transfer(ctx context.Context, req models.TokenTransferRequest) error {
	if err := c.do(ctx, http.MethodPost, "/api/tokens/transfer", nil, req, true, nil); err != nil {
		return fmt.Errorf("ошибка перевода расписок: %w", err)
	}
	return nil
}

// event выполняет POST запрос, возвращающий событие хранилища.
func (c *httpClient) event(ctx context.Context, path string, body any, action string) (*models.Event, error) {
	var event models.Event
	if err := c.do(ctx, http.MethodPost, path, nil, body, true, &event); err != nil {
		return nil, fmt.Errorf("ошибка %s: %w", action, err)
	}
	return &event, nil
}

// vaultPath формирует путь к ресурсу хранилища владельца.
func vaultPath(owner ledger.Address, parts ...string) string {
	return "/api/vaults/" + strings.Join(append([]string{owner.String()}, parts...), "/")
}

// do выполняет запрос. Тело body кодируется в JSON, ответ декодируется в out (если out не nil).
func (c *httpClient) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body any,
	auth bool,
	out any,
) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("ошибка формирования URL: %w", err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("ошибка кодирования запроса: %w", marshalErr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if err = c.setAuthHeader(req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Сервер отвечает текстом ошибки
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	return nil
}

// helper function to add auth header.
func (c *httpClient) setAuthHeader(req *http.Request) error {
	if c.authToken == "" {
		return ErrNoToken
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	return nil
}

const maxErrorBody = 4096

var (
	// ErrAuthorization сигнализирует об ошибке авторизации (401).
	ErrAuthorization = errors.New("ошибка авторизации")
	// ErrNotFound - ресурс не найден (404).
	ErrNotFound = errors.New("не найдено")
	// ErrConflict - операция недопустима в текущем состоянии (409).
	ErrConflict = errors.New("конфликт состояния")
	// ErrNoToken - запрос требует входа.
	ErrNoToken = errors.New("токен аутентификации отсутствует")
)
