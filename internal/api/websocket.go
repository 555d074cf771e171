package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// streamTopics are forwarded to websocket clients.
var streamTopics = []events.Event{
	events.EventPositionOpened,
	events.EventPositionClosed,
	events.EventEntryRejected,
	events.EventRiskAlert,
}

// wsMessage wraps a bus payload with its topic.
type wsMessage struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

func topicOf(payload any) events.Event {
	switch payload.(type) {
	case events.PositionOpened:
		return events.EventPositionOpened
	case events.PositionClosed:
		return events.EventPositionClosed
	case events.EntryRejected:
		return events.EventEntryRejected
	case events.RiskAlert:
		return events.EventRiskAlert
	case events.CandleClosed:
		return events.EventCandleClosed
	}
	return ""
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.opts.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.opts.Bus.Subscribe(100, streamTopics...)
	defer unsub()

	// the read pump only notices the client going away
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsMessage{Type: topicOf(msg), Data: msg}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
