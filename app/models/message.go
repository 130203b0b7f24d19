package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	TypeOrdersUpdated MessageType = "orders_updated"
	TypeKitchenOrder  MessageType = "kitchen_order"
	TypeTableUpdate   MessageType = "table_update"
	TypeHeartbeat     MessageType = "heartbeat"
	TypeAuthResponse  MessageType = "auth_response"
)

// ClientType represents the type of connected client
type ClientType string

const (
	ClientPOS     ClientType = "pos"
	ClientKitchen ClientType = "kitchen"
	ClientWaiter  ClientType = "waiter"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OrdersUpdatedData is the payload of an orders_updated message. Receivers
// re-fetch the order instead of trusting the payload.
type OrdersUpdatedData struct {
	OrderID string `json:"order_id"`
	TableID uint   `json:"table_id"`
}
