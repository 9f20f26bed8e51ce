package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
	"intentlend/native/escrow"
	"intentlend/native/intents"
	"intentlend/native/lending"
	"intentlend/native/viewcache"
)

var (
	errNoCaller = errors.New("caller not authenticated")
	errNoEngine = errors.New("routes: engine required")
)

// statusClasses maps engine sentinels to HTTP statuses. Order matters:
// ErrIntentConsumed wraps ErrInvalidIntent and must be matched first.
var statusClasses = []struct {
	status int
	errs   []error
}{
	{http.StatusUnauthorized, []error{errNoCaller}},
	{http.StatusForbidden, []error{lending.ErrMissingAuthorization}},
	{http.StatusServiceUnavailable, []error{nativecommon.ErrModulePaused, lending.ErrPriceUnavailable}},
	{http.StatusNotFound, []error{lending.ErrOrderNotFound}},
	{http.StatusConflict, []error{
		intents.ErrIntentConsumed,
		lending.ErrOrderClosed,
		lending.ErrNotLiquidatable,
		lending.ErrOverpayment,
		lending.ErrInsufficientCollateral,
		lending.ErrUndercollateralized,
		lending.ErrInsufficientDebt,
		lending.ErrNoPenalty,
		lending.ErrNoReservation,
		escrow.ErrReservationActive,
		escrow.ErrReservationInactive,
		escrow.ErrReservationConsumed,
		bank.ErrInsufficientBalance,
	}},
	{http.StatusBadRequest, []error{
		intents.ErrInvalidIntent,
		lending.ErrInvalidAmount,
		lending.ErrAmountMismatch,
		lending.ErrTermsMismatch,
		lending.ErrSignatureCount,
		lending.ErrDuplicateIntent,
		lending.ErrAssetMismatch,
		escrow.ErrInvalidAmount,
		bank.ErrInvalidAmount,
	}},
	{http.StatusBadGateway, []error{viewcache.ErrPushFailed}},
	{http.StatusGatewayTimeout, []error{context.DeadlineExceeded}},
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, class := range statusClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status
			}
		}
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		payload = []byte(fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message)))
	}
	_, _ = w.Write(payload)
}
