package futures_usdt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
}

// verifySignature checks the trailing signature against the rest of the query.
// It runs inside server handlers, so it reports with Errorf.
func verifySignature(t *testing.T, raw string) url.Values {
	t.Helper()
	idx := strings.LastIndex(raw, "&signature=")
	if idx < 0 {
		t.Errorf("missing signature in %q", raw)
		return url.Values{}
	}
	payload, sig := raw[:idx], raw[idx+len("&signature="):]
	if want := sign(payload, "secret"); sig != want {
		t.Errorf("signature=%s, expected %s", sig, want)
	}
	values, err := url.ParseQuery(payload)
	if err != nil {
		t.Errorf("parse query: %v", err)
	}
	return values
}

func TestSubmitTrailingStopOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/fapi/v1/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		params := verifySignature(t, string(body))
		if params.Get("type") != "TRAILING_STOP_MARKET" || params.Get("callbackRate") != "0.5" {
			t.Errorf("unexpected params: %v", params)
		}
		if params.Get("activationPrice") != "101" || params.Get("reduceOnly") != "true" {
			t.Errorf("unexpected params: %v", params)
		}
		if params.Get("stopPrice") != "" {
			t.Errorf("trailing order must not carry stopPrice")
		}
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "10")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"c1","status":"NEW"}`))
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:          "BTCUSDT",
		Side:            common.SideSell,
		Type:            common.OrderTypeTrailingStop,
		Qty:             0.01,
		ActivationPrice: 101,
		CallbackRate:    0.5,
		ReduceOnly:      true,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExchangeOrderID != "42" || res.Status != common.StatusNew {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitStopMarketCarriesStopPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		params := verifySignature(t, string(body))
		if params.Get("type") != "STOP_MARKET" || params.Get("stopPrice") != "98.5" {
			t.Errorf("unexpected params: %v", params)
		}
		_, _ = w.Write([]byte(`{"orderId":7,"status":"NEW"}`))
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket,
		Qty: 1, StopPrice: 98.5, ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
}

func TestMarketOrderUndecodableBodyCountsAsAccepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway hiccup</html>`))
	})
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1, ClientID: "entry-1",
	})
	if err != nil {
		t.Fatalf("a 2xx market order must not fail: %v", err)
	}
	if res.AvgPrice != 0 || res.Status != common.StatusUnknown || res.ClientID != "entry-1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// protective legs still surface the decode failure
	_, err = c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket, Qty: 1, StopPrice: 98, ReduceOnly: true,
	})
	if err == nil {
		t.Fatalf("expected decode error for stop order")
	}
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != -2019 {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "Margin is insufficient") {
		t.Fatalf("error should carry body: %v", apiErr)
	}
}

func TestSetMarginTypeIgnoresUnchanged(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
	})
	if err := c.SetMarginType(context.Background(), "BTCUSDT", "isolated"); err != nil {
		t.Fatalf("expected nil for unchanged margin type, got %v", err)
	}
}

func TestOpenPositionsSkipsFlat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v2/positionRisk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		verifySignature(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.010","entryPrice":"100.5","leverage":"10"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","leverage":"10"},
			{"symbol":"SOLUSDT","positionAmt":"-3","entryPrice":"20","leverage":"5"}
		]`))
	})
	got, err := c.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "BTCUSDT" || got[1].Amount != -3 || got[1].Leverage != 5 {
		t.Fatalf("unexpected positions: %+v", got)
	}
}

func TestGetOpenOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		params := verifySignature(t, r.URL.RawQuery)
		if params.Get("symbol") != "BTCUSDT" {
			t.Errorf("symbol not forwarded: %v", params)
		}
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","orderId":1,"type":"STOP_MARKET","stopPrice":"98","reduceOnly":true}]`))
	})
	orders, err := c.GetOpenOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].StopPrice != "98" || !orders[0].ReduceOnly {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestSymbolFiltersParsesExchangeInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","pricePrecision":2,
			"quantityPrecision":3,"filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}]}]}`))
	})
	got, err := c.SymbolFilters(context.Background())
	if err != nil {
		t.Fatalf("SymbolFilters: %v", err)
	}
	if len(got) != 1 || got[0].TickSize != "0.10" || got[0].StepSize != "0.001" || got[0].PricePrecision != 2 {
		t.Fatalf("unexpected filters: %+v", got)
	}
}

func TestCredentialsRequired(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	if err := c.SetLeverage(context.Background(), "BTCUSDT", 10); !errors.Is(err, ErrCredentials) {
		t.Fatalf("expected ErrCredentials, got %v", err)
	}
}

func TestAvailableBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/fapi/v2/balance" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		verifySignature(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[
			{"asset":"BNB","balance":"1.0","availableBalance":"1.0"},
			{"asset":"USDT","balance":"1200.50","crossWalletBalance":"1200.50","availableBalance":"1100.25"}
		]`))
	})
	got, err := c.AvailableBalance(context.Background(), "usdt")
	if err != nil {
		t.Fatalf("AvailableBalance: %v", err)
	}
	if got != 1100.25 {
		t.Fatalf("available=%v, expected 1100.25", got)
	}
	if _, err := c.AvailableBalance(context.Background(), "BUSD"); err == nil {
		t.Fatalf("expected error for missing asset")
	}
}

func TestListenKeyLifecycle(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/listenKey" || r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("signature") != "" {
			t.Errorf("listen key requests are not signed")
		}
		methods = append(methods, r.Method)
		_, _ = w.Write([]byte(`{"listenKey":"abc"}`))
	})
	key, err := c.CreateListenKey(context.Background())
	if err != nil || key != "abc" {
		t.Fatalf("CreateListenKey=%q,%v", key, err)
	}
	if err := c.KeepAliveListenKey(context.Background(), key); err != nil {
		t.Fatalf("KeepAliveListenKey: %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodPut {
		t.Fatalf("methods=%v", methods)
	}
}
