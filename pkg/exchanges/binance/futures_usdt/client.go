package futures_usdt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

// errMarginTypeUnchanged is returned by Binance when the margin type is already set.
const errMarginTypeUnchanged = -4046

var ErrCredentials = errors.New("binance usdt futures: API key/secret required")

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the mainnet/testnet host when set
}

var (
	_ common.Gateway      = (*Client)(nil)
	_ common.SymbolSource = (*Client)(nil)
)

// Client handles Binance USDT-M futures.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime)
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute) // 2400 weight/min for futures
	return c
}

// StartTimeSync keeps the request clock aligned with the server until ctx ends.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) signedParams() url.Values {
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	return params
}

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// SubmitOrder places an order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !c.hasCredentials() {
		return common.OrderResult{}, ErrCredentials
	}
	params := c.signedParams()
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	if req.Qty > 0 {
		params.Set("quantity", formatFloat(req.Qty))
	}

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		params.Set("stopPrice", formatFloat(req.StopPrice))
		if req.WorkingType != "" {
			params.Set("workingType", req.WorkingType)
		}
		if req.PriceProtect {
			params.Set("priceProtect", "TRUE")
		}
	case common.OrderTypeTrailingStop:
		params.Set("callbackRate", formatFloat(req.CallbackRate))
		if req.ActivationPrice > 0 {
			params.Set("activationPrice", formatFloat(req.ActivationPrice))
		}
		if req.WorkingType != "" {
			params.Set("workingType", req.WorkingType)
		}
	}

	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.Type == common.OrderTypeMarket {
		params.Set("newOrderRespType", "RESULT")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		if req.Type == common.OrderTypeMarket {
			// accepted with 2xx: the order is live even though the body is unreadable
			log.Printf("futures: market %s %s accepted but response undecodable (%v), fill price unknown: %.200s",
				req.Symbol, req.Side, err, body)
			return common.OrderResult{Status: common.StatusUnknown, ClientID: req.ClientID}, nil
		}
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		AvgPrice:        parseFloat(resp.AvgPrice),
		ExecutedQty:     parseFloat(resp.ExecutedQty),
	}, nil
}

// CancelOrder cancels an order by symbol and ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if !c.hasCredentials() {
		return ErrCredentials
	}
	params := c.signedParams()
	params.Set("symbol", symbol)
	if exchangeOrderID != "" {
		params.Set("orderId", exchangeOrderID)
	}
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// CancelAllOpenOrders cancels all open orders for a symbol.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if !c.hasCredentials() {
		return ErrCredentials
	}
	params := c.signedParams()
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// GetPositions returns the position risk view; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	if !c.hasCredentials() {
		return nil, ErrCredentials
	}
	params := c.signedParams()
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var pos []PositionRisk
	if err := json.Unmarshal(body, &pos); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return pos, nil
}

// OpenPositions returns the non-flat positions in venue-neutral form.
func (c *Client) OpenPositions(ctx context.Context) ([]common.PositionInfo, error) {
	raw, err := c.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]common.PositionInfo, 0, len(raw))
	for _, p := range raw {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, common.PositionInfo{
			Symbol:     p.Symbol,
			Amount:     amt,
			EntryPrice: parseFloat(p.EntryPrice),
			Leverage:   lev,
		})
	}
	return out, nil
}

// GetBalance returns the futures wallet balances per asset.
func (c *Client) GetBalance(ctx context.Context) ([]AccountBalance, error) {
	if !c.hasCredentials() {
		return nil, ErrCredentials
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", c.signedParams())
	if err != nil {
		return nil, err
	}
	var bal []AccountBalance
	if err := json.Unmarshal(body, &bal); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return bal, nil
}

// AvailableBalance returns the available margin of one asset.
func (c *Client) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range bal {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, fmt.Errorf("asset %s not in futures wallet", asset)
}

// GetOpenOrders returns open orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if !c.hasCredentials() {
		return nil, ErrCredentials
	}
	params := c.signedParams()
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []OpenOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if !c.hasCredentials() {
		return ErrCredentials
	}
	params := c.signedParams()
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets margin type (ISOLATED or CROSSED); an unchanged type is not an error.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	if !c.hasCredentials() {
		return ErrCredentials
	}
	params := c.signedParams()
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(marginType))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == errMarginTypeUnchanged {
		return nil
	}
	return err
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// SymbolFilters fetches exchange info and flattens each symbol's rounding rules.
func (c *Client) SymbolFilters(ctx context.Context) ([]common.SymbolFilters, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfoResp
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	out := make([]common.SymbolFilters, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		f := common.SymbolFilters{
			Symbol:            s.Symbol,
			Status:            s.Status,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "PRICE_FILTER":
				f.TickSize, _ = filter["tickSize"].(string)
			case "LOT_SIZE":
				f.StepSize, _ = filter["stepSize"].(string)
				f.MinQty, _ = filter["minQty"].(string)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// CreateListenKey opens a user data stream session.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, http.MethodPost, "/fapi/v1/listenKey")
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", errors.New("binance usdt futures: empty listen key")
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the user data stream by 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context, _ string) error {
	_, err := c.doKeyed(ctx, http.MethodPut, "/fapi/v1/listenKey")
	return err
}

// UserStreamURL is the websocket base for user data streams.
func (c *Client) UserStreamURL() string {
	if c.cfg.Testnet {
		return "wss://stream.binancefuture.com/ws"
	}
	return "wss://fstream.binance.com/ws"
}

// doKeyed sends an API-key-only request (no signature).
func (c *Client) doKeyed(ctx context.Context, method, path string) ([]byte, error) {
	if !c.hasCredentials() {
		return nil, ErrCredentials
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req, method, path)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, http.MethodGet, path)
}

// doSigned handles signing and sending requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if wait := c.rateLimiter.Backoff(); wait > 0 {
		log.Printf("futures: request weight high, holding %s for %v", path, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	// signature goes last, computed over the exact query that is sent
	encoded := params.Encode()
	encoded += "&signature=" + sign(encoded, c.cfg.APISecret)

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req, method, path)
}

func (c *Client) send(req *http.Request, method, path string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Endpoint: path, StatusCode: res.StatusCode, Body: string(body)}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}
	return body, nil
}
