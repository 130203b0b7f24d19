package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"RestoPOS/app/models"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrTableNotFound    = errors.New("table not found")
	ErrOrderAlreadySent = errors.New("order already sent to kitchen")
	ErrOrderClosed      = errors.New("order is closed")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Notifier pushes order changes to connected clients
type Notifier interface {
	NotifyOrdersUpdated(order *models.Order)
	SendKitchenOrder(order *models.Order, items []models.LineItem)
}

// OrderService is the authoritative order store every till synchronizes against
type OrderService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *LoggerService
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB, logger *LoggerService) *OrderService {
	return &OrderService{db: db, logger: logger}
}

// SetNotifier sets the component that broadcasts order changes
func (s *OrderService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// GetProducts returns the active catalog with ingredients
func (s *OrderService) GetProducts() ([]models.Product, error) {
	var products []models.Product
	err := s.db.Preload("Ingredients").Preload("Category").
		Where("is_active = ?", true).
		Order("category_id, name").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	return products, nil
}

// GetTables returns the active tables
func (s *OrderService) GetTables() ([]models.Table, error) {
	var tables []models.Table
	if err := s.db.Where("is_active = ?", true).Order("number").Find(&tables).Error; err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	return tables, nil
}

// CreateOrGetOrder returns the table's open order, creating one if there is none
func (s *OrderService) CreateOrGetOrder(tableID uint) (*models.Order, error) {
	var orderID string
	created := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var table models.Table
		if err := tx.First(&table, tableID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTableNotFound
			}
			return err
		}

		var existing models.Order
		err := tx.Where("table_id = ? AND status = ?", tableID, models.OrderStatusOpen).
			Order("created_at DESC").
			First(&existing).Error
		if err == nil {
			orderID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		order := models.Order{
			ID:            uuid.NewString(),
			TableID:       tableID,
			Status:        models.OrderStatusOpen,
			KitchenStatus: models.KitchenNotSent,
			Total:         decimal.Zero,
		}
		if err := tx.Omit(clause.Associations).Create(&order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := tx.Model(&models.Table{}).Where("id = ?", tableID).Update("status", "occupied").Error; err != nil {
			return fmt.Errorf("failed to update table status: %w", err)
		}
		orderID = order.ID
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.LogInfo("Order opened", fmt.Sprintf("order=%s table=%d", order.ID, tableID))
		s.notify(order)
	}
	return order, nil
}

// GetOrder loads an order with its items in position order
func (s *OrderService) GetOrder(id string) (*models.Order, error) {
	return loadOrder(s.db, id)
}

func loadOrder(db *gorm.DB, id string) (*models.Order, error) {
	var order models.Order
	err := db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	if order.Items == nil {
		order.Items = []models.LineItem{}
	}
	return &order, nil
}

// UpdateOrder applies a till's full item list. Pending items with a known ID
// are updated, items with an unknown temporary ID are created with a new UUID
// and their temporary ID kept as ClientRef, pending items listed in removedIDs
// are deleted. Items the request does not mention are kept; sent and served
// items never change.
func (s *OrderService) UpdateOrder(id string, items []models.LineItem, removedIDs []string) (*models.Order, error) {
	created := 0
	removedCount := 0

	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusOpen {
			return ErrOrderClosed
		}

		byID := make(map[string]*models.LineItem, len(order.Items))
		byClientRef := make(map[string]*models.LineItem, len(order.Items))
		for i := range order.Items {
			item := &order.Items[i]
			byID[item.ID] = item
			if item.ClientRef != "" {
				byClientRef[item.ClientRef] = item
			}
		}

		position := 0
		mentioned := make(map[string]bool, len(items))
		for _, in := range items {
			if in.Quantity < 1 {
				return fmt.Errorf("%w: item %s has quantity %d", ErrInvalidRequest, in.ID, in.Quantity)
			}

			existing, ok := byID[in.ID]
			if !ok {
				// a retried write carries the temporary ID the item was created from
				existing, ok = byClientRef[in.ID]
			}
			if ok {
				if mentioned[existing.ID] {
					continue
				}
				mentioned[existing.ID] = true
				existing.Position = position
				position++
				if existing.Status.IsPending() {
					existing.Quantity = in.Quantity
					existing.Comment = strings.TrimSpace(in.Comment)
					existing.ExcludedIngredients = in.ExcludedIngredients
				}
				if err := tx.Save(existing).Error; err != nil {
					return fmt.Errorf("failed to update item %s: %w", existing.ID, err)
				}
				continue
			}

			if models.IsPersistedID(in.ID) {
				s.logger.LogWarning("Ignoring unknown item", fmt.Sprintf("order=%s item=%s", id, in.ID))
				continue
			}

			var product models.Product
			if err := tx.First(&product, in.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: unknown product %d", ErrInvalidRequest, in.ProductID)
				}
				return err
			}

			item := models.LineItem{
				ID:                  uuid.NewString(),
				OrderID:             id,
				ClientRef:           in.ID,
				ProductID:           product.ID,
				ProductName:         product.Name,
				UnitPrice:           product.Price,
				Quantity:            in.Quantity,
				Comment:             strings.TrimSpace(in.Comment),
				ExcludedIngredients: in.ExcludedIngredients,
				Status:              models.ItemPending,
				Position:            position,
			}
			position++
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("failed to create item: %w", err)
			}
			mentioned[item.ID] = true
			created++
		}

		removed := make(map[string]bool, len(removedIDs))
		for _, rid := range removedIDs {
			removed[rid] = true
		}
		for i := range order.Items {
			item := &order.Items[i]
			if mentioned[item.ID] {
				continue
			}
			if removed[item.ID] && item.Status.IsPending() {
				if err := tx.Delete(&models.LineItem{}, "id = ?", item.ID).Error; err != nil {
					return fmt.Errorf("failed to delete item %s: %w", item.ID, err)
				}
				removedCount++
				continue
			}
			item.Position = position
			position++
			if err := tx.Save(item).Error; err != nil {
				return fmt.Errorf("failed to update item %s: %w", item.ID, err)
			}
		}

		return recalculateTotal(tx, id)
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	s.logger.LogInfo("Order updated", fmt.Sprintf("order=%s items=%d created=%d removed=%d", id, len(order.Items), created, removedCount))
	s.notify(order)
	return order, nil
}

// SendToKitchen marks the given pending items as sent and forwards a ticket to
// the kitchen. Items that were already sent are skipped.
func (s *OrderService) SendToKitchen(id string, itemIDs []string) (*models.Order, error) {
	var ticket []models.LineItem

	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusOpen {
			return ErrOrderClosed
		}

		now := time.Now()
		for _, itemID := range itemIDs {
			idx := order.FindItem(itemID)
			if idx < 0 {
				return fmt.Errorf("%w: unknown item %s", ErrInvalidRequest, itemID)
			}
			item := &order.Items[idx]
			if !item.Status.IsPending() {
				continue
			}
			item.Status = models.ItemSent
			item.SentToKitchenAt = &now
			if err := tx.Save(item).Error; err != nil {
				return fmt.Errorf("failed to mark item %s sent: %w", item.ID, err)
			}
			ticket = append(ticket, item.Clone())
		}
		if len(ticket) == 0 {
			return fmt.Errorf("%w: no pending items to send", ErrInvalidRequest)
		}

		return tx.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
			"kitchen_status": models.KitchenSent,
			"sent_at":        now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	s.logger.LogInfo("Order sent to kitchen", fmt.Sprintf("order=%s items=%d", id, len(ticket)))
	if s.notifier != nil {
		s.notifier.SendKitchenOrder(order, ticket)
	}
	s.notify(order)
	return order, nil
}

// MarkServed marks every sent item as served
func (s *OrderService) MarkServed(id string) (*models.Order, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusOpen {
			return ErrOrderClosed
		}
		if !order.HasSentItems() {
			return fmt.Errorf("%w: nothing was sent to the kitchen", ErrInvalidRequest)
		}

		if err := tx.Model(&models.LineItem{}).
			Where("order_id = ? AND status = ?", id, models.ItemSent).
			Update("status", models.ItemServed).Error; err != nil {
			return fmt.Errorf("failed to mark items served: %w", err)
		}
		return tx.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
			"kitchen_status": models.KitchenServed,
			"served_at":      time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	s.notify(order)
	return order, nil
}

// Finalize records the payment, closes the order and frees the table
func (s *OrderService) Finalize(id, paymentMethod, receiptURL string) error {
	paymentMethod = strings.TrimSpace(paymentMethod)
	if paymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", ErrInvalidRequest)
	}

	var order *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusOpen {
			return ErrOrderClosed
		}

		payment := models.Payment{
			OrderID:    id,
			Method:     paymentMethod,
			Amount:     models.CalculateTotal(order.Items),
			ReceiptURL: receiptURL,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		now := time.Now()
		order.Status = models.OrderStatusPaid
		order.PaidAt = &now
		if err := tx.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":  models.OrderStatusPaid,
			"paid_at": now,
			"total":   payment.Amount,
		}).Error; err != nil {
			return fmt.Errorf("failed to close order: %w", err)
		}
		return freeTable(tx, order.TableID)
	})
	if err != nil {
		return err
	}

	s.logger.LogInfo("Order paid", fmt.Sprintf("order=%s method=%s receipt=%t", id, paymentMethod, receiptURL != ""))
	s.notify(order)
	return nil
}

// CancelUnsentOrder cancels an order none of whose items reached the kitchen
func (s *OrderService) CancelUnsentOrder(id string) error {
	var order *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, id)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusOpen {
			return ErrOrderClosed
		}
		if order.HasSentItems() {
			return ErrOrderAlreadySent
		}

		if err := tx.Where("order_id = ?", id).Delete(&models.LineItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		order.Items = []models.LineItem{}
		order.Status = models.OrderStatusCancelled
		if err := tx.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status": models.OrderStatusCancelled,
			"total":  decimal.Zero,
		}).Error; err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		return freeTable(tx, order.TableID)
	})
	if err != nil {
		return err
	}

	s.logger.LogInfo("Order cancelled", "order="+id)
	s.notify(order)
	return nil
}

// GetPayment returns the payment recorded for an order
func (s *OrderService) GetPayment(orderID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (s *OrderService) notify(order *models.Order) {
	if s.notifier != nil && order != nil {
		s.notifier.NotifyOrdersUpdated(order)
	}
}

func recalculateTotal(tx *gorm.DB, orderID string) error {
	var items []models.LineItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	return tx.Model(&models.Order{}).Where("id = ?", orderID).Update("total", models.CalculateTotal(items)).Error
}

func freeTable(tx *gorm.DB, tableID uint) error {
	if err := tx.Model(&models.Table{}).Where("id = ?", tableID).Update("status", "available").Error; err != nil {
		return fmt.Errorf("failed to free table: %w", err)
	}
	return nil
}
