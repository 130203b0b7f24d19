package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus represents the payment lifecycle of an order
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) String() string {
	return string(s)
}

// KitchenStatus represents how far an order has travelled through the kitchen
type KitchenStatus string

const (
	KitchenNotSent KitchenStatus = "not_sent"
	KitchenSent    KitchenStatus = "sent"
	KitchenServed  KitchenStatus = "served"
)

func (s KitchenStatus) String() string {
	return string(s)
}

// ItemStatus represents the status of a single line item
type ItemStatus string

const (
	ItemPending ItemStatus = "not_sent"
	ItemSent    ItemStatus = "sent"
	ItemServed  ItemStatus = "served"
)

func (s ItemStatus) String() string {
	return string(s)
}

// IsPending reports whether the item has not been transmitted to the kitchen yet.
// An empty status is treated as pending.
func (s ItemStatus) IsPending() bool {
	return s == ItemPending || s == ""
}

// StringList is a list of strings stored as a JSON column
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Order represents a table's current transaction
type Order struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	TableID       uint            `gorm:"index" json:"table_id"`
	Table         *Table          `gorm:"foreignKey:TableID" json:"table,omitempty"`
	Status        OrderStatus     `gorm:"index;size:16" json:"status"`
	KitchenStatus KitchenStatus   `gorm:"size:16" json:"kitchen_status"`
	Items         []LineItem      `gorm:"foreignKey:OrderID" json:"items"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2)" json:"total"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	ServedAt      *time.Time      `json:"served_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

// LineItem represents one product line within an order
type LineItem struct {
	ID                  string          `gorm:"primaryKey;size:64" json:"id"`
	OrderID             string          `gorm:"index;size:36" json:"order_id,omitempty"`
	ClientRef           string          `gorm:"size:64" json:"client_ref,omitempty"` // temporary ID the item was created from
	ProductID           uint            `gorm:"index" json:"product_id"`
	ProductName         string          `json:"product_name"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(12,2)" json:"unit_price"`
	Quantity            int             `json:"quantity"`
	Comment             string          `json:"comment"`
	ExcludedIngredients StringList      `gorm:"type:text" json:"excluded_ingredients"`
	Status              ItemStatus      `gorm:"size:16" json:"status"`
	Position            int             `json:"position"`
	SentToKitchenAt     *time.Time      `json:"sent_to_kitchen_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Subtotal returns unit price times quantity
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Clone returns a deep copy of the item
func (i LineItem) Clone() LineItem {
	c := i
	if i.ExcludedIngredients != nil {
		c.ExcludedIngredients = append(StringList(nil), i.ExcludedIngredients...)
	}
	if i.SentToKitchenAt != nil {
		t := *i.SentToKitchenAt
		c.SentToKitchenAt = &t
	}
	return c
}

// CloneItems returns a deep copy of an item list
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the order. The Table relation is shared.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = CloneItems(o.Items)
	return &c
}

// CalculateTotal sums unit price times quantity over all items
func CalculateTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// RecalculateTotal refreshes Total from the current items
func (o *Order) RecalculateTotal() {
	o.Total = CalculateTotal(o.Items)
}

// FindItem returns the index of the item with the given ID, or -1
func (o *Order) FindItem(id string) int {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// HasSentItems reports whether any item went past the pending state
func (o *Order) HasSentItems() bool {
	for _, item := range o.Items {
		if !item.Status.IsPending() {
			return true
		}
	}
	return false
}

// Table represents a restaurant table
type Table struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Number    string         `gorm:"not null;uniqueIndex" json:"number"`
	Name      string         `json:"name"`
	Capacity  int            `json:"capacity"`
	Status    string         `json:"status"` // "available", "occupied"
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Payment records how an order was settled
type Payment struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	OrderID    string          `gorm:"index;size:36" json:"order_id"`
	Method     string          `gorm:"not null" json:"method"` // "cash", "card", "transfer"
	Amount     decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	ReceiptURL string          `json:"receipt_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
