package cycle

import "github.com/tscore/statarb/internal/exchange"

// marketDataBlob is the shallow {candles, orders} structure persisted into
// job_log.market_data, the observability escape hatch for a cycle's inputs
// and order outcomes.
type marketDataBlob struct {
	Candles struct {
		TrainA, TrainB   []float64 `json:"train_a,omitempty"`
		WindowA, WindowB []float64 `json:"window_a,omitempty"`
	} `json:"candles"`
	Orders []orderResultBlob `json:"orders,omitempty"`
}

type orderResultBlob struct {
	Leg     string `json:"leg"` // "a" | "b"
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toOrderBlob(leg string, r *exchange.OrderResult) orderResultBlob {
	if r == nil {
		return orderResultBlob{Leg: leg, Success: false, Error: "no result"}
	}
	return orderResultBlob{Leg: leg, Success: r.Success, OrderID: r.OrderID, Error: r.Error}
}
