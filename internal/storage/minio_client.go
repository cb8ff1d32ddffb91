package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// FileStorage определяет интерфейс для взаимодействия с объектным хранилищем.
type FileStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// MinioClient реализует FileStorage для MinIO.
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

var _ FileStorage = (*MinioClient)(nil)

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"` // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string `yaml:"access_key"`
	SecretAccessKey string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	BucketName      string `yaml:"bucket"` // Бакет архива событий
	Region          string `yaml:"region"`
}

// NewMinioClient создает новый клиент MinIO и при необходимости создает бакет.
func NewMinioClient(ctx context.Context, cfg MinioConfig) (*MinioClient, error) {
	zap.S().Infof("[Minio] Инициализация клиента MinIO для эндпоинта %s...", cfg.Endpoint)

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		zap.S().Infof("[Minio] Бакет '%s' не найден, попытка создания...", cfg.BucketName)
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
	}

	zap.S().Infof("[Minio] Клиент MinIO инициализирован для бакета '%s'", cfg.BucketName)
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
	}, nil
}

// UploadFile загружает объект в MinIO.
func (c *MinioClient) UploadFile(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	size int64,
	contentType string,
) error {
	opts := minio.PutObjectOptions{ContentType: contentType}

	uploadInfo, err := c.client.PutObject(ctx, c.bucketName, objectKey, reader, size, opts)
	if err != nil {
		zap.S().Errorf("[Minio] Ошибка загрузки объекта '%s': %v", objectKey, err)
		return fmt.Errorf("ошибка загрузки файла в MinIO: %w", err)
	}

	zap.S().Debugf("[Minio] Объект '%s' загружен, размер: %d, ETag: %s", objectKey, uploadInfo.Size, uploadInfo.ETag)
	return nil
}

// DownloadFile скачивает объект из MinIO.
// Возвращает io.ReadCloser, который нужно закрыть после использования.
func (c *MinioClient) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	object, err := c.client.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(objectKey, err)
	}

	// GetObject ленивый: отсутствие объекта обнаруживается только при Stat или чтении.
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateMinioError(objectKey, err)
	}
	return object, nil
}

func translateMinioError(objectKey string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		zap.S().Debugf("[Minio] Объект '%s' не найден", objectKey)
		return ErrObjectNotFound
	}
	zap.S().Errorf("[Minio] Ошибка получения объекта '%s': %v", objectKey, err)
	return fmt.Errorf("ошибка получения файла из MinIO: %w", err)
}

// Кастомная ошибка хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
)
