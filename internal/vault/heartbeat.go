package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
	"github.com/maynagashev/heirvault/internal/repository"
)

// Heartbeat подтверждает активность владельца: LastActiveAt = now.
func (e *Engine) Heartbeat(ctx context.Context, caller, owner ledger.Address) (models.Event, error) {
	return e.run(ctx, "heartbeat", owner, func(_ ledger.Tx, now time.Time) (repository.VaultChange, error) {
		v, err := e.loadVault(ctx, owner)
		if err != nil {
			return repository.VaultChange{}, err
		}
		if caller != v.Owner {
			return repository.VaultChange{}, errors.Wrapf(ErrUnauthorized, "вызывающий %s", caller)
		}

		v.LastActiveAt = now
		v.UpdatedAt = now

		return repository.VaultChange{
			Op:    repository.OpUpdate,
			Vault: v,
			Event: newEvent(models.EventHeartbeat, v.Owner, v.Escrow, caller, 0, now),
		}, nil
	})
}
