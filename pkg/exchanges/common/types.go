package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the futures order types the engine sends.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStop     OrderType = "TRAILING_STOP_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_MARKET / TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ClientID    string // optional client order id
	ReduceOnly  bool

	WorkingType     string  // MARK_PRICE or CONTRACT_PRICE
	PriceProtect    bool    // price protection
	ActivationPrice float64 // for TRAILING_STOP_MARKET
	CallbackRate    float64 // for TRAILING_STOP_MARKET (percentage)
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	AvgPrice        float64
	ExecutedQty     float64
}

// PositionInfo is a venue-neutral view of an open exchange position.
type PositionInfo struct {
	Symbol     string
	Amount     float64 // signed; negative for shorts
	EntryPrice float64
	Leverage   int
}

// SymbolFilters carries the trading rules needed for rounding.
type SymbolFilters struct {
	Symbol            string
	Status            string
	PricePrecision    int
	QuantityPrecision int
	TickSize          string
	StepSize          string
	MinQty            string
}
