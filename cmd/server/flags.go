package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/policy"
	"github.com/maynagashev/heirvault/internal/storage"
	"github.com/maynagashev/heirvault/internal/vault"
)

const (
	defaultServerPort = "8443"

	// Переменные окружения.
	envConfigFile      = "HEIRVAULT_CONFIG"
	envServerPort      = "SERVER_PORT"
	envTLSCertFile     = "TLS_CERT_FILE"
	envTLSKeyFile      = "TLS_KEY_FILE"
	envDatabaseDSN     = "DATABASE_DSN"
	envJWTSecret       = "JWT_SECRET" //nolint:gosec // Имя переменной окружения
	envMinioEndpoint   = "MINIO_ENDPOINT"
	envMinioUser       = "MINIO_USER"
	envMinioPassword   = "MINIO_PASSWORD" //nolint:gosec // Имя переменной окружения
	envMinioBucket     = "MINIO_BUCKET"
	envMinioUseSSL     = "MINIO_USE_SSL"
	envVaultProgram    = "VAULT_PROGRAM_ID"
	envHookProgram     = "HOOK_PROGRAM_ID"
	envRentRate        = "RENT_LAMPORTS_PER_BYTE_YEAR"
	envDistribution    = "DISTRIBUTION_POLICY"
	envAirdropLamports = "AIRDROP_LAMPORTS"

	defaultMinioBucket     = "heirvault-events"
	defaultAirdropLamports = 10_000_000_000
)

// config хранит конфигурацию сервера.
// Приоритет источников: флаги, переменные окружения, YAML-файл, значения по умолчанию.
type config struct {
	ConfigFile string `yaml:"-"`

	Port        string              `yaml:"port"`
	CertFile    string              `yaml:"cert_file"`
	KeyFile     string              `yaml:"key_file"`
	DatabaseDSN string              `yaml:"database_dsn"`
	JWTSecret   string              `yaml:"jwt_secret"`
	Minio       storage.MinioConfig `yaml:"minio"`

	VaultProgramID     string `yaml:"vault_program_id"`
	HookProgramID      string `yaml:"hook_program_id"`
	RentPerByteYear    uint64 `yaml:"rent_lamports_per_byte_year"`
	DistributionPolicy string `yaml:"distribution_policy"`
	AirdropLamports    uint64 `yaml:"airdrop_lamports"`
}

// defaultConfig возвращает значения по умолчанию.
func defaultConfig() config {
	return config{
		Port:               defaultServerPort,
		Minio:              storage.MinioConfig{BucketName: defaultMinioBucket},
		VaultProgramID:     vault.DefaultProgramID.String(),
		HookProgramID:      policy.DefaultProgramID.String(),
		RentPerByteYear:    ledger.DefaultLamportsPerByteYear,
		DistributionPolicy: string(vault.DistributeTruncate),
		AirdropLamports:    defaultAirdropLamports,
	}
}

// newApp описывает флаги сервера. Значения defaults становятся значениями по умолчанию флагов.
func newApp(cfg *config, defaults config) *kingpin.Application {
	app := kingpin.New("heirvault-server", "Сервер хранилищ наследования HeirVault.")
	app.HelpFlag.Short('h')

	app.Flag("config", "Путь к YAML-файлу конфигурации").
		Envar(envConfigFile).StringVar(&cfg.ConfigFile)
	app.Flag("port", "Порт HTTP(S)-сервера").
		Envar(envServerPort).Default(defaults.Port).StringVar(&cfg.Port)
	app.Flag("cert-file", "Путь к файлу TLS-сертификата (без него сервер работает по HTTP)").
		Envar(envTLSCertFile).Default(defaults.CertFile).StringVar(&cfg.CertFile)
	app.Flag("key-file", "Путь к файлу TLS-ключа").
		Envar(envTLSKeyFile).Default(defaults.KeyFile).StringVar(&cfg.KeyFile)
	app.Flag("database-dsn", "Строка подключения к PostgreSQL (пусто - хранение в памяти)").
		Envar(envDatabaseDSN).Default(defaults.DatabaseDSN).StringVar(&cfg.DatabaseDSN)
	app.Flag("jwt-secret", "Секрет для подписи JWT").
		Envar(envJWTSecret).Default(defaults.JWTSecret).StringVar(&cfg.JWTSecret)

	app.Flag("minio-endpoint", "Адрес MinIO для архива событий (пусто - архив выключен)").
		Envar(envMinioEndpoint).Default(defaults.Minio.Endpoint).StringVar(&cfg.Minio.Endpoint)
	app.Flag("minio-user", "Ключ доступа MinIO").
		Envar(envMinioUser).Default(defaults.Minio.AccessKeyID).StringVar(&cfg.Minio.AccessKeyID)
	app.Flag("minio-password", "Секретный ключ MinIO").
		Envar(envMinioPassword).Default(defaults.Minio.SecretAccessKey).StringVar(&cfg.Minio.SecretAccessKey)
	app.Flag("minio-bucket", "Бакет архива событий").
		Envar(envMinioBucket).Default(defaults.Minio.BucketName).StringVar(&cfg.Minio.BucketName)
	app.Flag("minio-use-ssl", "Подключаться к MinIO по TLS").
		Envar(envMinioUseSSL).Default(strconv.FormatBool(defaults.Minio.UseSSL)).BoolVar(&cfg.Minio.UseSSL)
	cfg.Minio.Region = defaults.Minio.Region

	app.Flag("vault-program-id", "Адрес программы хранилищ (base58)").
		Envar(envVaultProgram).Default(defaults.VaultProgramID).StringVar(&cfg.VaultProgramID)
	app.Flag("hook-program-id", "Адрес программы transfer hook (base58)").
		Envar(envHookProgram).Default(defaults.HookProgramID).StringVar(&cfg.HookProgramID)
	app.Flag("rent-lamports-per-byte-year", "Ставка аренды реестра").
		Envar(envRentRate).Default(strconv.FormatUint(defaults.RentPerByteYear, 10)).Uint64Var(&cfg.RentPerByteYear)
	app.Flag("distribution-policy", "Способ округления долей наследников").
		Envar(envDistribution).Default(defaults.DistributionPolicy).
		EnumVar(&cfg.DistributionPolicy, string(vault.DistributeTruncate), string(vault.DistributeLargestRemainder))
	app.Flag("airdrop-lamports", "Начисление новым пользователям (0 - выключено)").
		Envar(envAirdropLamports).Default(strconv.FormatUint(defaults.AirdropLamports, 10)).Uint64Var(&cfg.AirdropLamports)

	return app
}

// parseFlags разбирает аргументы, переменные окружения и файл конфигурации.
func parseFlags(args []string) (*config, error) {
	defaults := defaultConfig()

	// Первый проход нужен только для того, чтобы узнать путь к файлу конфигурации.
	var probe config
	if _, err := newApp(&probe, defaults).Parse(args); err != nil {
		return nil, fmt.Errorf("ошибка разбора флагов: %w", err)
	}
	if probe.ConfigFile != "" {
		if err := loadConfigFile(probe.ConfigFile, &defaults); err != nil {
			return nil, err
		}
	}

	cfg := &config{}
	if _, err := newApp(cfg, defaults).Parse(args); err != nil {
		return nil, fmt.Errorf("ошибка разбора флагов: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile накладывает значения из YAML-файла на cfg.
func loadConfigFile(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("ошибка разбора файла конфигурации %s: %w", path, err)
	}
	return nil
}

// validate проверяет обязательные и взаимосвязанные параметры.
func (c *config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("не указан секрет JWT (--jwt-secret или " + envJWTSecret + ")")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("сертификат и ключ TLS задаются только вместе (" + envTLSCertFile + ", " + envTLSKeyFile + ")")
	}
	if _, err := c.vaultProgram(); err != nil {
		return err
	}
	if _, err := c.hookProgram(); err != nil {
		return err
	}
	if _, err := vault.ParseDistributionPolicy(c.DistributionPolicy); err != nil {
		return fmt.Errorf("невалидный способ распределения: %w", err)
	}
	return nil
}

func (c *config) vaultProgram() (ledger.Address, error) {
	addr, err := ledger.ParseAddress(c.VaultProgramID)
	if err != nil {
		return addr, fmt.Errorf("невалидный адрес программы хранилищ: %w", err)
	}
	return addr, nil
}

func (c *config) hookProgram() (ledger.Address, error) {
	addr, err := ledger.ParseAddress(c.HookProgramID)
	if err != nil {
		return addr, fmt.Errorf("невалидный адрес программы хука: %w", err)
	}
	return addr, nil
}

// useTLS сообщает, что сервер запускается по HTTPS.
func (c *config) useTLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// archiveEnabled сообщает, что настроен архив событий в MinIO.
func (c *config) archiveEnabled() bool {
	return c.Minio.Endpoint != ""
}
