// Package policy содержит transfer hook для токенов-расписок хранилища.
package policy

import (
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/maynagashev/heirvault/internal/ledger"
)

// DefaultProgramID - адрес программы хука по умолчанию.
var DefaultProgramID = ledger.Address(sha256.Sum256([]byte("heirvault:transfer_hook")))

//nolint:gochecknoglobals
var metricRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heirvault_guard_rejections_total",
	Help: "Number of claim-receipt transfers rejected by the transfer hook",
}, []string{"reason"})

// Guard проверяет каждый перевод токенов-расписок:
// получатель должен быть кошельком (адресом на кривой ed25519) и нативным
// аккаунтом системной программы, а делегат аккаунта-источника - заявленным
// управляющим адресом. После проверок аккаунт получателя переходит под
// управление этого адреса.
type Guard struct{}

var _ ledger.TransferHook = Guard{}

// NewGuard создает hook.
func NewGuard() Guard {
	return Guard{}
}

// Execute реализует ledger.TransferHook.
func (Guard) Execute(hc ledger.HookContext, req ledger.TransferRequest) error {
	// Адрес вне кривой принадлежит программе, даже если аккаунта еще нет.
	if !ledger.IsOnCurve(req.Destination) {
		metricRejections.WithLabelValues("off_curve").Inc()
		zap.S().Infof("[Guard] Перевод на %s отклонен: адрес программы", req.Destination)
		return errors.Wrapf(ErrInvalidDestination, "получатель %s вне кривой", req.Destination)
	}
	// Отсутствующий аккаунт считается принадлежащим системной программе.
	if dst, ok := hc.Account(req.Destination); ok && dst.Owner != ledger.SystemProgramID {
		metricRejections.WithLabelValues("destination").Inc()
		zap.S().Infof("[Guard] Перевод на %s отклонен: владелец получателя %s", req.Destination, dst.Owner)
		return errors.Wrapf(ErrInvalidDestination, "получатель %s", req.Destination)
	}

	src, ok := hc.TokenAccount(req.Source)
	if !ok || !src.HasDelegate() || src.Delegate != req.Authority {
		metricRejections.WithLabelValues("delegate").Inc()
		zap.S().Infof("[Guard] Перевод с %s отклонен: делегат не %s", req.Source, req.Authority)
		return errors.Wrapf(ErrInvalidDelegate, "источник %s", req.Source)
	}

	if err := hc.Assign(req.Destination, req.Authority); err != nil {
		return errors.Wrap(err, "переназначение владельца получателя")
	}
	zap.S().Debugf("[Guard] Аккаунт %s передан под управление %s", req.Destination, req.Authority)
	return nil
}

// Ошибки проверки перевода.
var (
	ErrInvalidDestination = errors.New("получатель не является нативным аккаунтом")
	ErrInvalidDelegate    = errors.New("делегат источника не совпадает с управляющим адресом")
)
