package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/position"
	"github.com/BirdFarmer/BinanceRepo-sub002/pkg/exchanges/common"
)

// exchange limits for TRAILING_STOP_MARKET callbackRate
const (
	minCallbackRate = 0.1
	maxCallbackRate = 5.0
)

func entrySide(s position.Side) common.Side {
	if s == position.Short {
		return common.SideSell
	}
	return common.SideBuy
}

func exitSide(s position.Side) common.Side {
	if s == position.Short {
		return common.SideBuy
	}
	return common.SideSell
}

func clientID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// pace blocks until the next dependent gateway call may go out.
func (c *Controller) pace(ctx context.Context) error {
	return c.legs.Wait(ctx)
}

// openOnExchange places leverage, the market entry and the protective legs in
// order. Only a failed leverage or market call returns an error; protective
// leg failures leave the position open and raise an alert.
func (c *Controller) openOnExchange(ctx context.Context, p position.Position) (float64, error) {
	if _, done := c.marginSet.Load(p.Symbol); !done && c.opts.MarginType != "" {
		if err := c.gateway.SetMarginType(ctx, p.Symbol, c.opts.MarginType); err != nil {
			log.Printf("engine: set margin type %s: %v", p.Symbol, err)
		} else {
			c.marginSet.Store(p.Symbol, struct{}{})
		}
	}

	if err := c.gateway.SetLeverage(ctx, p.Symbol, p.Leverage); err != nil {
		return 0, fmt.Errorf("%w: set leverage %s: %w", ErrEntryFailed, p.Symbol, err)
	}
	if err := c.pace(ctx); err != nil {
		return 0, err
	}

	res, err := c.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   p.Symbol,
		Side:     entrySide(p.Side),
		Type:     common.OrderTypeMarket,
		Qty:      p.Qty,
		ClientID: clientID("entry"),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: market entry %s: %w", ErrEntryFailed, p.Symbol, err)
	}
	fill := res.AvgPrice
	log.Printf("engine: market %s %s filled order=%s avg=%.6f", p.Symbol, p.Side, res.ExchangeOrderID, fill)

	c.placeProtection(ctx, p)
	return fill, nil
}

func (c *Controller) placeProtection(ctx context.Context, p position.Position) {
	stop := c.roundPrice(p.Symbol, p.StopLoss)
	if err := c.submitLeg(ctx, p, common.OrderRequest{
		Symbol:      p.Symbol,
		Side:        exitSide(p.Side),
		Type:        common.OrderTypeStopMarket,
		Qty:         p.Qty,
		StopPrice:   stop,
		ReduceOnly:  true,
		WorkingType: "MARK_PRICE",
		ClientID:    clientID("sl"),
	}); err != nil {
		c.unprotected(p, "stop_loss", err)
	}

	if p.Trailing.Enabled {
		cb := math.Min(math.Max(p.Trailing.CallbackPct, minCallbackRate), maxCallbackRate)
		if cb != p.Trailing.CallbackPct {
			log.Printf("engine: %s callback %.4f%% clamped to %.2f%% for the exchange", p.Symbol, p.Trailing.CallbackPct, cb)
		}
		err := c.submitLeg(ctx, p, common.OrderRequest{
			Symbol:          p.Symbol,
			Side:            exitSide(p.Side),
			Type:            common.OrderTypeTrailingStop,
			Qty:             p.Qty,
			ActivationPrice: c.roundPrice(p.Symbol, p.ActivationThreshold()),
			CallbackRate:    math.Round(cb*10) / 10,
			ReduceOnly:      true,
			WorkingType:     "MARK_PRICE",
			ClientID:        clientID("trail"),
		})
		if err != nil {
			c.unprotected(p, "trailing_stop", err)
		}
		return
	}

	if err := c.submitLeg(ctx, p, common.OrderRequest{
		Symbol:      p.Symbol,
		Side:        exitSide(p.Side),
		Type:        common.OrderTypeTakeProfitMarket,
		Qty:         p.Qty,
		StopPrice:   c.roundPrice(p.Symbol, p.TakeProfit),
		ReduceOnly:  true,
		WorkingType: "MARK_PRICE",
		ClientID:    clientID("tp"),
	}); err != nil {
		c.unprotected(p, "take_profit", err)
	}
}

func (c *Controller) submitLeg(ctx context.Context, p position.Position, req common.OrderRequest) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	res, err := c.gateway.SubmitOrder(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("engine: %s %s leg placed order=%s stop=%.6f", p.Symbol, req.Type, res.ExchangeOrderID, req.StopPrice)
	return nil
}

func (c *Controller) unprotected(p position.Position, leg string, err error) {
	wrapped := fmt.Errorf("%w: %s %s leg: %v", ErrUnprotected, p.Symbol, leg, err)
	log.Printf("engine: %v", wrapped)
	c.publish(events.EventRiskAlert, events.RiskAlert{
		Symbol:  p.Symbol,
		Kind:    "unprotected",
		Message: wrapped.Error(),
		Time:    c.now(),
	})
}

// flattenOnExchange cancels the protective legs and closes the position with
// a reduce-only market order. Failures are logged; local settlement proceeds.
func (c *Controller) flattenOnExchange(ctx context.Context, p position.Position) {
	if err := c.gateway.CancelAllOpenOrders(ctx, p.Symbol); err != nil {
		log.Printf("engine: cancel orders %s: %v", p.Symbol, err)
	}
	if err := c.pace(ctx); err != nil {
		log.Printf("engine: flatten %s: %v", p.Symbol, err)
		return
	}
	res, err := c.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:     p.Symbol,
		Side:       exitSide(p.Side),
		Type:       common.OrderTypeMarket,
		Qty:        p.Qty,
		ReduceOnly: true,
		ClientID:   clientID("close"),
	})
	if err != nil {
		log.Printf("engine: flatten %s market order failed: %v", p.Symbol, err)
		c.publish(events.EventRiskAlert, events.RiskAlert{
			Symbol: p.Symbol, Kind: "flatten_failed", Message: err.Error(), Time: c.now(),
		})
		return
	}
	if res.AvgPrice > 0 {
		c.RecordTick(p.Symbol, res.AvgPrice)
	}
}

func (c *Controller) roundPrice(symbol string, price float64) float64 {
	if r, ok := c.symbols.RoundPrice(symbol, price); ok {
		return r
	}
	return price
}
