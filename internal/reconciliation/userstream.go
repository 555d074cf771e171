package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
)

var errListenKeyExpired = errors.New("user stream: listen key expired")

// ListenKeyClient manages the user data stream session.
type ListenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// FillSettler settles a position at the price an exchange order filled.
type FillSettler interface {
	SettleExchangeFill(ctx context.Context, symbol string, price float64, reason position.CloseReason) bool
}

// UserStream settles positions as soon as the exchange reports a protective
// order fill. The periodic Service stays the backstop for missed messages.
type UserStream struct {
	client    ListenKeyClient
	settler   FillSettler
	baseURL   string
	keepAlive time.Duration
	retry     time.Duration
	dialer    *websocket.Dialer
}

func NewUserStream(client ListenKeyClient, settler FillSettler, baseURL string) *UserStream {
	return &UserStream{
		client:    client,
		settler:   settler,
		baseURL:   strings.TrimRight(baseURL, "/"),
		keepAlive: 30 * time.Minute,
		retry:     5 * time.Second,
		dialer:    websocket.DefaultDialer,
	}
}

// Run keeps a session open until ctx is cancelled, reconnecting on errors.
func (s *UserStream) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			log.Printf("user stream: %v; reconnecting in %v", err, s.retry)
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.retry):
		}
	}
	return nil
}

func (s *UserStream) session(ctx context.Context) error {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.baseURL+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	log.Println("user stream: connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(ctx, key); err != nil {
					log.Printf("user stream: keepalive error: %v", err)
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

type orderUpdate struct {
	Symbol       string `json:"s"`
	Type         string `json:"o"`
	OriginalType string `json:"ot"`
	Status       string `json:"X"`
	AvgPrice     string `json:"ap"`
	LastPrice    string `json:"L"`
	ReduceOnly   bool   `json:"R"`
}

func (s *UserStream) handle(ctx context.Context, msg []byte) error {
	var envelope struct {
		Event string          `json:"e"`
		Order json.RawMessage `json:"o"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		log.Printf("user stream: parse error: %v", err)
		return nil
	}
	switch envelope.Event {
	case "listenKeyExpired":
		return errListenKeyExpired
	case "ORDER_TRADE_UPDATE":
	default:
		return nil
	}

	var u orderUpdate
	if err := json.Unmarshal(envelope.Order, &u); err != nil {
		log.Printf("user stream: order update parse error: %v", err)
		return nil
	}
	reason, price, ok := protectiveFill(u)
	if !ok {
		return nil
	}
	if s.settler.SettleExchangeFill(ctx, u.Symbol, price, reason) {
		log.Printf("user stream: %s %s filled at %.6f", u.Symbol, reason, price)
	}
	return nil
}

// protectiveFill reports whether u is a filled stop, target or trailing
// order and the reason and price to settle with.
func protectiveFill(u orderUpdate) (position.CloseReason, float64, bool) {
	if !strings.EqualFold(u.Status, "FILLED") || !u.ReduceOnly {
		return "", 0, false
	}
	kind := u.OriginalType
	if kind == "" {
		kind = u.Type
	}
	var reason position.CloseReason
	switch strings.ToUpper(kind) {
	case "STOP_MARKET", "STOP":
		reason = position.ReasonStopLoss
	case "TAKE_PROFIT_MARKET", "TAKE_PROFIT":
		reason = position.ReasonTakeProfit
	case "TRAILING_STOP_MARKET":
		reason = position.ReasonTrailingStop
	default:
		return "", 0, false
	}
	price, _ := strconv.ParseFloat(u.AvgPrice, 64)
	if price <= 0 {
		price, _ = strconv.ParseFloat(u.LastPrice, 64)
	}
	return reason, price, true
}
