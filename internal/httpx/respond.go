package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
)

type errorBody struct {
	Error      string                  `json:"error"`
	Kind       string                  `json:"kind,omitempty"`
	Shortfalls []orders.StockShortfall `json:"shortfalls,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps an engine failure onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := orders.KindOf(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var short *orders.InsufficientStockError
	if errors.As(err, &short) {
		body.Shortfalls = short.Shortfalls
	}
	writeJSON(w, statusFor(kind, err), body)
}

func statusFor(kind string, err error) int {
	switch kind {
	case orders.KindNotFound, orders.KindProductUnknown, orders.KindItemNotFound:
		return http.StatusNotFound
	case orders.KindInvalidQuantity, orders.KindInvalidDiscount, orders.KindUnknownStatus:
		return http.StatusUnprocessableEntity
	case orders.KindInsufficientStock, orders.KindOrderNotModifiable, orders.KindIllegalTransition, orders.KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
