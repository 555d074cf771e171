package futures_usdt

import "fmt"

// APIError is a non-2xx answer from the futures API.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance usdt futures %s %s status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

// PositionRisk mirrors /fapi/v2/positionRisk entries.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
}

// AccountBalance mirrors /fapi/v2/balance entries.
type AccountBalance struct {
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	AvailableBalance   string `json:"availableBalance"`
	MaxWithdrawAmount  string `json:"maxWithdrawAmount"`
}

// OpenOrder mirrors /fapi/v1/openOrders entries.
type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol            string           `json:"symbol"`
		Status            string           `json:"status"`
		ContractType      string           `json:"contractType"`
		PricePrecision    int              `json:"pricePrecision"`
		QuantityPrecision int              `json:"quantityPrecision"`
		Filters           []map[string]any `json:"filters"`
	} `json:"symbols"`
}
