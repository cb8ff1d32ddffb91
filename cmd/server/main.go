package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/handlers"
	"github.com/maynagashev/heirvault/internal/ledger"
	appmiddleware "github.com/maynagashev/heirvault/internal/middleware"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/repository"
	"github.com/maynagashev/heirvault/internal/services"
	"github.com/maynagashev/heirvault/internal/storage"
	"github.com/maynagashev/heirvault/internal/vault"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Подменяются в тестах.
//
//nolint:gochecknoglobals
var (
	newPostgresDB  = repository.NewPostgresDB
	newMinioClient = func(ctx context.Context, cfg storage.MinioConfig) (storage.FileStorage, error) {
		return storage.NewMinioClient(ctx, cfg)
	}
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db           *sqlx.DB
	ledger       *ledger.Memory
	archive      *storage.EventArchive
	authHandler  *handlers.AuthHandler
	vaultHandler *handlers.VaultHandler
	tokenHandler *handlers.TokenHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		zap.S().Errorf("Ошибка конфигурации: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		zap.S().Errorf("Ошибка выполнения сервера: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run(ctx context.Context, cfg *config) error {
	zap.S().Infof("Запуск сервера HeirVault...")

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer deps.close()

	jwtSecret := []byte(cfg.JWTSecret)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      setupRouter(deps, jwtSecret),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.useTLS() {
			zap.S().Infof("Запуск HTTPS-сервера на порту %s (сертификат %s)", cfg.Port, cfg.CertFile)
			errCh <- server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		zap.S().Warnf("TLS не настроен, запуск HTTP-сервера на порту %s", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zap.S().Infof("Остановка сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(ctx context.Context, cfg *config) (*dependencies, error) {
	deps := &dependencies{}

	vaultProgram, err := cfg.vaultProgram()
	if err != nil {
		return nil, err
	}
	hookProgram, err := cfg.hookProgram()
	if err != nil {
		return nil, err
	}
	distribution, err := vault.ParseDistributionPolicy(cfg.DistributionPolicy)
	if err != nil {
		return nil, fmt.Errorf("невалидный способ распределения: %w", err)
	}

	// 1. Репозитории: PostgreSQL или память.
	var (
		userRepo  repository.UserRepository
		vaultRepo repository.VaultRepository
	)
	if cfg.DatabaseDSN != "" {
		deps.db, err = newPostgresDB(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
		}
		if err = repository.EnsureSchema(ctx, deps.db); err != nil {
			deps.close()
			return nil, err
		}
		userRepo = repository.NewPostgresUserRepository(deps.db)
		vaultRepo = repository.NewPostgresVaultRepository(deps.db)
	} else {
		zap.S().Warnf("Строка подключения к БД не указана, данные хранятся в памяти")
		userRepo = repository.NewMemoryUserRepository()
		vaultRepo = repository.NewMemoryVaultRepository()
	}

	// 2. Архив событий в MinIO.
	if cfg.archiveEnabled() {
		files, minioErr := newMinioClient(ctx, cfg.Minio)
		if minioErr != nil {
			deps.close()
			return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", minioErr)
		}
		deps.archive = storage.NewEventArchive(files)
	} else {
		zap.S().Infof("MinIO не настроен, архив событий выключен")
	}

	// 3. Реестр с хуком проверки переводов расписок.
	deps.ledger = ledger.NewMemory(
		ledger.WithLamportsPerByteYear(cfg.RentPerByteYear),
		ledger.WithTransferHook(hookProgram, policy.NewGuard()),
	)

	// 4. Движок и сервисы.
	engineOpts := []vault.Option{
		vault.WithProgramID(vaultProgram),
		vault.WithDistributionPolicy(distribution),
	}
	vaultCfg := services.VaultServiceConfig{
		Ledger:      deps.ledger,
		Repo:        vaultRepo,
		HookProgram: hookProgram,
	}
	if deps.archive != nil {
		engineOpts = append(engineOpts, vault.WithEventPublisher(deps.archive))
		vaultCfg.Archive = deps.archive
	}
	engine := vault.New(deps.ledger, vaultRepo, engineOpts...)
	vaultCfg.Engine = engine

	authService := services.NewAuthService(userRepo, services.AuthConfig{
		JWTSecret:       []byte(cfg.JWTSecret),
		Faucet:          deps.ledger,
		AirdropLamports: cfg.AirdropLamports,
	})
	vaultService := services.NewVaultService(vaultCfg)
	tokenService := services.NewTokenService(deps.ledger, engine)

	// 5. Обработчики.
	deps.authHandler = handlers.NewAuthHandler(authService)
	deps.vaultHandler = handlers.NewVaultHandler(vaultService)
	deps.tokenHandler = handlers.NewTokenHandler(tokenService)

	return deps, nil
}

// close освобождает ресурсы зависимостей.
func (d *dependencies) close() {
	if d.db == nil {
		return
	}
	if err := d.db.Close(); err != nil {
		zap.S().Warnf("Ошибка закрытия соединения с БД: %v", err)
	}
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(deps *dependencies, jwtSecret []byte) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты (регистрация, вход)
		r.Post("/register", deps.authHandler.Register)
		r.Post("/login", deps.authHandler.Login)

		// Приватные маршруты (требуют аутентификации)
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.NewAuthenticator(jwtSecret))

			r.Route("/vaults", func(r chi.Router) {
				r.Post("/", deps.vaultHandler.Create)
				r.Post("/deposit", deps.vaultHandler.Deposit)
				r.Route("/{owner}", func(r chi.Router) {
					r.Get("/", deps.vaultHandler.Get)
					r.Post("/heartbeat", deps.vaultHandler.Heartbeat)
					r.Post("/redeem", deps.vaultHandler.Redeem)
					r.Post("/trigger", deps.vaultHandler.Trigger)
					r.Get("/events", deps.vaultHandler.ListEvents)
					r.Get("/events/{id}", deps.vaultHandler.GetArchivedEvent)
				})
			})
			r.Get("/account", deps.tokenHandler.Account)
			r.Post("/tokens/transfer", deps.tokenHandler.Transfer)
		})
	})
	return r
}
