package ordersync

import (
	"context"

	"RestoPOS/app/models"
)

// UpdateRequest is the body of an UpdateOrder call
type UpdateRequest = models.UpdateOrderRequest

// OrderAPI is the remote order service the engine treats as the source of truth.
// GetOrder returns (nil, nil) when the order does not exist.
type OrderAPI interface {
	CreateOrGetOrder(ctx context.Context, tableID uint) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID string, req UpdateRequest) (*models.Order, error)
	SendToKitchen(ctx context.Context, orderID string, itemIDs []string) (*models.Order, error)
	MarkServed(ctx context.Context, orderID string) (*models.Order, error)
	Finalize(ctx context.Context, orderID, paymentMethod, receiptURL string) error
	CancelUnsentOrder(ctx context.Context, orderID string) error
	UploadReceipt(ctx context.Context, orderID string, png []byte) (string, error)
}

// Logger is the logging surface the engine needs. *services.LoggerService satisfies it.
type Logger interface {
	LogInfo(message string, details ...string)
	LogWarning(message string, details ...string)
	LogError(message string, err error, details ...string)
}

// Alerter shows a blocking message to the person at the till.
type Alerter interface {
	Alert(message string)
}

// Confirmer asks the person at the till a yes/no question.
type Confirmer interface {
	Confirm(question string) bool
}

// Draft is the locally journaled state of a table's order.
type Draft struct {
	TableID   uint
	Current   *models.Order
	Confirmed *models.Order
}

// Journal persists unsent local edits so they survive a crash of the till.
type Journal interface {
	SaveDraft(tableID uint, current, confirmed *models.Order) error
	LoadDraft(tableID uint) (*Draft, error)
	ClearDraft(tableID uint) error
}

type nopLogger struct{}

func (nopLogger) LogInfo(string, ...string)         {}
func (nopLogger) LogWarning(string, ...string)      {}
func (nopLogger) LogError(string, error, ...string) {}

type nopAlerter struct{}

func (nopAlerter) Alert(string) {}
