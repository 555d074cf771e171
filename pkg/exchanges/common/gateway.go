package common

import "context"

// Gateway abstracts a futures trading venue.
type Gateway interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	OpenPositions(ctx context.Context) ([]PositionInfo, error)
}

// SymbolSource lists symbol trading rules.
type SymbolSource interface {
	SymbolFilters(ctx context.Context) ([]SymbolFilters, error)
}
