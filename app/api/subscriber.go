package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
	pongWait          = 60 * time.Second
)

// Subscriber listens on the server's websocket for orders_updated messages
// and reconnects with capped exponential backoff when the connection drops.
type Subscriber struct {
	wsURL    string
	apiKey   string
	onUpdate func(models.OrdersUpdatedData)
	log      ordersync.Logger
	dialer   *websocket.Dialer
}

// NewSubscriber creates a subscriber for the server at baseURL. onUpdate runs
// on the subscriber's goroutine and must not block. It is also called with an
// empty payload after every successful dial.
func NewSubscriber(baseURL, apiKey string, logger ordersync.Logger, onUpdate func(models.OrdersUpdatedData)) (*Subscriber, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		wsURL:    wsURL,
		apiKey:   apiKey,
		onUpdate: onUpdate,
		log:      logger,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Run keeps the subscription alive until ctx is cancelled
func (s *Subscriber) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		connected, err := s.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = minReconnectDelay
		}
		s.log.LogWarning("Order updates connection lost, reconnecting", fmt.Sprintf("error=%v retry_in=%s", err, delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// listen dials once and reads until the connection fails. It reports whether
// the dial succeeded so Run can reset its backoff.
func (s *Subscriber) listen(ctx context.Context) (bool, error) {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set(APIKeyHeader, s.apiKey)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	s.log.LogInfo("Subscribed to order updates", s.wsURL)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// updates sent while disconnected were missed, so resync once per dial
	if s.onUpdate != nil {
		s.onUpdate(models.OrdersUpdatedData{})
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		// any traffic, heartbeats included, proves the server is alive
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var message models.Message
		if err := json.Unmarshal(data, &message); err != nil {
			s.log.LogWarning("Error parsing message", err.Error())
			continue
		}
		if message.Type != models.TypeOrdersUpdated {
			continue
		}

		var update models.OrdersUpdatedData
		if len(message.Data) > 0 {
			if err := json.Unmarshal(message.Data, &update); err != nil {
				s.log.LogWarning("Error parsing orders_updated payload", err.Error())
			}
		}
		if s.onUpdate != nil {
			s.onUpdate(update)
		}
	}
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"type": {string(models.ClientPOS)}}.Encode()
	return u.String(), nil
}
