package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maynagashev/heirvault/internal/models"
)

//nolint:gochecknoglobals
var (
	metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heirvault_vault_operations_total",
		Help: "Number of vault operations by operation and result",
	}, []string{"operation", "result"})

	metricDepositedLamports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirvault_vault_deposited_lamports",
		Help: "Lamports moved into escrow accounts by initialize and deposit",
	})

	metricDistributedLamports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirvault_vault_distributed_lamports",
		Help: "Lamports paid out to beneficiaries",
	})

	metricRewardLamports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirvault_vault_reward_lamports",
		Help: "Lamports paid to inheritance triggers",
	})

	metricDustLamports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirvault_vault_dust_destroyed_lamports",
		Help: "Lamports destroyed when an escrow account is closed",
	})

	metricClosedVaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirvault_vault_closed_count",
		Help: "Number of vaults closed after the escrow was drained",
	})
)

// observeEvent учитывает движение лампортов по событию зафиксированной операции.
func observeEvent(event models.Event) {
	switch event.Kind {
	case models.EventInitialized, models.EventDeposit:
		metricDepositedLamports.Add(float64(event.Amount))
	case models.EventRedeem, models.EventInheritanceTriggered:
		metricRewardLamports.Add(float64(event.Details.Reward))
		metricDistributedLamports.Add(float64(event.Details.Distributed()))
		if event.Details.Closed {
			metricClosedVaults.Inc()
			metricDustLamports.Add(float64(event.Details.Dust))
		}
	case models.EventHeartbeat:
	}
}

func observeResult(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricOperations.WithLabelValues(operation, result).Inc()
}
