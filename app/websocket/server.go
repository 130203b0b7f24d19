package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"RestoPOS/app/models"
	"RestoPOS/app/services"
)

// ServiceType is the mDNS service tills browse for
const ServiceType = "_posserver._tcp"

// Client represents a connected WebSocket client
type Client struct {
	ID          string
	Type        models.ClientType
	Connection  *websocket.Conn
	Send        chan []byte
	Server      *Server
	ConnectedAt time.Time
	RemoteAddr  string
}

// Server is the order server's HTTP endpoint: the REST API plus the
// WebSocket hub that pushes orders_updated notifications to tills.
type Server struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex

	port         string
	instanceName string
	announceMDNS bool
	logger       *services.LoggerService
	rest         *RESTHandlers
	httpServer   *http.Server
	mdnsServer   *zeroconf.Server
	done         chan struct{}
	hubOnce      sync.Once
	stopOnce     sync.Once
}

var _ services.Notifier = (*Server)(nil)

// ServerOptions configures NewServer
type ServerOptions struct {
	Port         string // ":8080"
	InstanceName string
	AnnounceMDNS bool
	APIKeyHashes []string
}

// NewServer creates the server and registers itself as the order service's notifier
func NewServer(opts ServerOptions, orders *services.OrderService, receipts *services.ReceiptStore, logger *services.LoggerService) *Server {
	s := &Server{
		clients:      make(map[string]*Client),
		broadcast:    make(chan []byte, 64),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		port:         opts.Port,
		instanceName: opts.InstanceName,
		announceMDNS: opts.AnnounceMDNS,
		logger:       logger,
		done:         make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from local network
				return true
			},
		},
	}
	s.rest = NewRESTHandlers(orders, receipts, s, opts.APIKeyHashes, logger)
	orders.SetNotifier(s)
	return s
}

// Handler starts the hub and returns the router serving the REST API and /ws
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.run() })
	return s.rest.Routes()
}

// Start runs the hub, announces the server via mDNS and serves HTTP until
// Shutdown is called.
func (s *Server) Start() error {
	if s.announceMDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.LogWarning("mDNS announcement failed, tills need a configured server URL", err.Error())
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.LogInfo("Order server starting", "port "+s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("order server stopped: %w", err)
	}
	return nil
}

// startMDNS announces the order server via mDNS/Zeroconf
func (s *Server) startMDNS() error {
	// Extract port number from ":8080" format
	port, err := strconv.Atoi(s.port[strings.LastIndex(s.port, ":")+1:])
	if err != nil {
		return fmt.Errorf("invalid port format %s: %w", s.port, err)
	}

	server, err := zeroconf.Register(
		s.instanceName,          // Service instance name
		ServiceType,             // Service type
		"local.",                // Domain
		port,                    // Port
		[]string{"version=1.0"}, // TXT records
		nil,                     // Network interfaces (nil = all)
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	s.mdnsServer = server
	s.logger.LogInfo("Order server announced", ServiceType+".local")
	return nil
}

// Shutdown stops the mDNS announcement, the HTTP server and every client connection
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.mdnsServer != nil {
			s.mdnsServer.Shutdown()
		}
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		close(s.done)
	})
	return err
}

// run handles the main hub loop
func (s *Server) run() {
	ticker := time.NewTicker(30 * time.Second) // Heartbeat every 30 seconds
	defer ticker.Stop()

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.ID] = client
			s.mu.Unlock()
			s.logger.LogInfo("Client registered", fmt.Sprintf("%s (type: %s)", client.ID, client.Type))
			s.sendAuthResponse(client)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client.ID]; ok {
				delete(s.clients, client.ID)
				close(client.Send)
				s.logger.LogInfo("Client unregistered", client.ID)
			}
			s.mu.Unlock()

		case message := <-s.broadcast:
			s.mu.Lock()
			for id, client := range s.clients {
				select {
				case client.Send <- message:
				default:
					// Client buffer is full, disconnect
					delete(s.clients, id)
					close(client.Send)
				}
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.sendHeartbeat()

		case <-s.done:
			s.mu.Lock()
			for id, client := range s.clients {
				delete(s.clients, id)
				close(client.Send)
			}
			s.mu.Unlock()
			return
		}
	}
}

// handleWebSocket handles WebSocket connection upgrades
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientType := models.ClientType(r.URL.Query().Get("type"))
	if clientType == "" {
		clientType = models.ClientPOS
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.LogWarning("WebSocket upgrade failed", err.Error())
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Type:        clientType,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Server:      s,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards client messages apart from heartbeats and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Server.unregister <- c:
		case <-c.Server.done:
		}
		c.Connection.Close()
	}()

	c.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Connection.SetPongHandler(func(string) error {
		c.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Server.logger.LogWarning("WebSocket read error", err.Error())
			}
			return
		}

		var message models.Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			continue
		}
		if message.Type == models.TypeHeartbeat {
			c.sendMessage(newMessage(models.TypeHeartbeat, json.RawMessage(`{"status":"alive"}`)))
		}
	}
}

// writePump handles writing messages to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues a message for one client
func (c *Client) sendMessage(message models.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.Server.mu.RLock()
	defer c.Server.mu.RUnlock()
	if _, ok := c.Server.clients[c.ID]; !ok {
		return fmt.Errorf("client %s is disconnected", c.ID)
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}

func newMessage(msgType models.MessageType, data json.RawMessage) models.Message {
	return models.Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// BroadcastMessage broadcasts a message to all connected clients
func (s *Server) BroadcastMessage(message models.Message) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.LogError("Error marshaling message", err)
		return
	}
	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

// broadcastTo sends a message to every client of the given type
func (s *Server) broadcastTo(clientType models.ClientType, message models.Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.Type != clientType {
			continue
		}
		select {
		case client.Send <- data:
		default:
			s.logger.LogWarning("Failed to send to client", client.ID)
		}
	}
}

// NotifyOrdersUpdated tells every connected client that an order changed.
// Tills re-fetch the order in response.
func (s *Server) NotifyOrdersUpdated(order *models.Order) {
	data, _ := json.Marshal(models.OrdersUpdatedData{OrderID: order.ID, TableID: order.TableID})
	s.BroadcastMessage(newMessage(models.TypeOrdersUpdated, data))
}

// SendKitchenOrder sends a ticket with the newly sent items to kitchen displays
func (s *Server) SendKitchenOrder(order *models.Order, items []models.LineItem) {
	data, _ := json.Marshal(map[string]interface{}{
		"order_id": order.ID,
		"table_id": order.TableID,
		"items":    items,
		"time":     time.Now(),
	})
	s.broadcastTo(models.ClientKitchen, newMessage(models.TypeKitchenOrder, data))
}

// sendHeartbeat sends heartbeat to all clients
func (s *Server) sendHeartbeat() {
	message := newMessage(models.TypeHeartbeat, json.RawMessage(`{"ping":"pong"}`))
	data, _ := json.Marshal(message)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// sendAuthResponse greets a new client with its ID. Callers must not hold s.mu.
func (s *Server) sendAuthResponse(client *Client) {
	data, _ := json.Marshal(map[string]interface{}{
		"success":   true,
		"message":   "Connected successfully",
		"client_id": client.ID,
	})
	client.sendMessage(newMessage(models.TypeAuthResponse, data))
}

// ClientCounts returns the number of connected clients by type
func (s *Server) ClientCounts() map[models.ClientType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ClientType]int)
	for _, client := range s.clients {
		counts[client.Type]++
	}
	return counts
}

// GetPort returns the server port
func (s *Server) GetPort() string {
	return s.port
}
