package observability

import (
	"math/big"

	"intentlend/core/events"
	"intentlend/crypto"
	"intentlend/observability/metrics"
)

// EventRecorder folds committed engine events into the lending metrics set.
// It satisfies events.Emitter so it can sit next to the websocket hub and
// the event bus publisher behind events.Multi.
type EventRecorder struct {
	metrics *metrics.LendingMetrics
}

// NewEventRecorder returns a recorder writing to m. A nil m falls back to the
// process-wide registry.
func NewEventRecorder(m *metrics.LendingMetrics) *EventRecorder {
	if m == nil {
		m = metrics.Lending()
	}
	return &EventRecorder{metrics: m}
}

func (r *EventRecorder) Emit(ev events.Event) {
	if r == nil || ev == nil {
		return
	}
	r.metrics.ObserveEvent(ev.EventType())
	switch e := ev.(type) {
	case events.LoanCreated:
		r.metrics.ObserveLoanOpened(assetLabel(e.BorrowAsset), amountFloat(e.Principal))
	case events.LoanClosed:
		r.metrics.ObserveLoanClosed(e.Status)
	case events.LiquidationPayout:
		r.metrics.ObserveSeized(assetLabel(e.CollateralAsset), amountFloat(e.Seized))
	case events.PenaltyAccrued:
		r.metrics.ObservePenalty("accrued", amountFloat(e.Amount))
	case events.PenaltySettled:
		r.metrics.ObservePenalty("settled", amountFloat(e.Amount))
	case events.CacheUpdateFailed:
		r.metrics.IncCacheFailure(e.ViewAddress)
	case events.Reservation:
		switch e.Kind {
		case events.TypeFundsReserved:
			r.metrics.AddReserved(assetLabel(e.Asset), amountFloat(e.Amount))
		case events.TypeReservationCanceled, events.TypeReservationConsumed:
			r.metrics.AddReserved(assetLabel(e.Asset), -amountFloat(e.Amount))
		}
	}
}

func assetLabel(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.Hex()
}

func amountFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
