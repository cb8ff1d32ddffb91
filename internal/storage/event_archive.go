package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
)

const eventContentType = "application/json"

// EventArchive хранит копии событий хранилищ в объектном хранилище.
// Ключ объекта: events/<владелец>/<id события>.json.
type EventArchive struct {
	files FileStorage
}

// NewEventArchive создает архив поверх файлового хранилища.
func NewEventArchive(files FileStorage) *EventArchive {
	return &EventArchive{files: files}
}

// EventKey возвращает ключ объекта для события.
func EventKey(owner ledger.Address, id uuid.UUID) string {
	return fmt.Sprintf("events/%s/%s.json", owner, id)
}

// PublishEvent сохраняет событие в архив.
func (a *EventArchive) PublishEvent(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	key := EventKey(event.Owner, event.ID)
	if err = a.files.UploadFile(ctx, key, bytes.NewReader(body), int64(len(body)), eventContentType); err != nil {
		return err
	}
	zap.S().Debugf("[EventArchive] Событие %s (%s) сохранено в архив", event.ID, event.Kind)
	return nil
}

// LoadEvent читает событие из архива. Возвращает ErrObjectNotFound, если копии нет.
func (a *EventArchive) LoadEvent(ctx context.Context, owner ledger.Address, id uuid.UUID) (*models.Event, error) {
	obj, err := a.files.DownloadFile(ctx, EventKey(owner, id))
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := obj.Close(); closeErr != nil {
			zap.S().Warnf("[EventArchive] Ошибка закрытия объекта события %s: %v", id, closeErr)
		}
	}()

	var event models.Event
	if err = json.NewDecoder(obj).Decode(&event); err != nil {
		return nil, fmt.Errorf("ошибка чтения события из архива: %w", err)
	}
	return &event, nil
}
