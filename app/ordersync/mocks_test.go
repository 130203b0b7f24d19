package ordersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RestoPOS/app/models"
)

// MockOrderAPI is an in-memory order server that applies updates the way the
// real one does: persisted pending items are updated, new items get a UUID
// and their temporary ID echoed in ClientRef, sent items are immutable.
type MockOrderAPI struct {
	mu sync.Mutex

	order        *models.Order
	updates      []UpdateRequest
	kitchenCalls [][]string
	getCalls     int
	cancelled    []string
	finalized    []string
	receiptURLs  []string

	updateErr   error
	uploadErr   error
	keepTempIDs bool

	// beforeUpdate runs once, outside the lock, at the start of the next UpdateOrder
	beforeUpdate func()
	// beforeKitchen does the same for SendToKitchen
	beforeKitchen func()
}

func (m *MockOrderAPI) CreateOrGetOrder(ctx context.Context, tableID uint) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order == nil || m.order.Status != models.OrderStatusOpen {
		m.order = &models.Order{
			ID:            uuid.NewString(),
			TableID:       tableID,
			Status:        models.OrderStatusOpen,
			KitchenStatus: models.KitchenNotSent,
		}
	}
	return m.order.Clone(), nil
}

func (m *MockOrderAPI) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.order == nil || m.order.ID != orderID {
		return nil, nil
	}
	return m.order.Clone(), nil
}

func (m *MockOrderAPI) UpdateOrder(ctx context.Context, orderID string, req UpdateRequest) (*models.Order, error) {
	m.mu.Lock()
	hook := m.beforeUpdate
	m.beforeUpdate = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, UpdateRequest{
		Items:          models.CloneItems(req.Items),
		RemovedItemIDs: append([]string(nil), req.RemovedItemIDs...),
	})
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if m.order == nil || m.order.ID != orderID {
		return nil, errors.New("order not found")
	}

	existing := make(map[string]models.LineItem, len(m.order.Items))
	for _, item := range m.order.Items {
		existing[item.ID] = item
	}
	removed := make(map[string]bool, len(req.RemovedItemIDs))
	for _, id := range req.RemovedItemIDs {
		removed[id] = true
	}

	used := make(map[string]bool)
	var items []models.LineItem
	for _, in := range req.Items {
		if cur, ok := existing[in.ID]; ok {
			used[in.ID] = true
			if cur.Status.IsPending() {
				cur.Quantity = in.Quantity
				cur.Comment = in.Comment
				cur.ExcludedIngredients = in.ExcludedIngredients
			}
			items = append(items, cur)
			continue
		}
		item := in.Clone()
		item.Status = models.ItemPending
		if !m.keepTempIDs {
			item.ClientRef = in.ID
			item.ID = uuid.NewString()
		}
		items = append(items, item)
	}
	for _, cur := range m.order.Items {
		if used[cur.ID] || (removed[cur.ID] && cur.Status.IsPending()) {
			continue
		}
		items = append(items, cur)
	}

	m.order.Items = items
	m.order.RecalculateTotal()
	return m.order.Clone(), nil
}

func (m *MockOrderAPI) SendToKitchen(ctx context.Context, orderID string, itemIDs []string) (*models.Order, error) {
	m.mu.Lock()
	hook := m.beforeKitchen
	m.beforeKitchen = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.kitchenCalls = append(m.kitchenCalls, append([]string(nil), itemIDs...))
	ids := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = true
	}
	for i := range m.order.Items {
		if ids[m.order.Items[i].ID] {
			m.order.Items[i].Status = models.ItemSent
		}
	}
	m.order.KitchenStatus = models.KitchenSent
	return m.order.Clone(), nil
}

func (m *MockOrderAPI) MarkServed(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.order.Items {
		if m.order.Items[i].Status == models.ItemSent {
			m.order.Items[i].Status = models.ItemServed
		}
	}
	m.order.KitchenStatus = models.KitchenServed
	return m.order.Clone(), nil
}

func (m *MockOrderAPI) Finalize(ctx context.Context, orderID, paymentMethod, receiptURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, paymentMethod)
	m.receiptURLs = append(m.receiptURLs, receiptURL)
	m.order.Status = models.OrderStatusPaid
	return nil
}

func (m *MockOrderAPI) CancelUnsentOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	m.order.Status = models.OrderStatusCancelled
	return nil
}

func (m *MockOrderAPI) UploadReceipt(ctx context.Context, orderID string, png []byte) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	return "/receipts/" + orderID + ".png", nil
}

// serverAdd appends an item as if another till had written it
func (m *MockOrderAPI) serverAdd(productID uint, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Items = append(m.order.Items, models.LineItem{
		ID:        uuid.NewString(),
		ProductID: productID,
		UnitPrice: decimal.NewFromInt(5),
		Quantity:  quantity,
		Status:    models.ItemPending,
	})
	m.order.RecalculateTotal()
}

func (m *MockOrderAPI) snapshot() *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Clone()
}

func (m *MockOrderAPI) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *MockOrderAPI) lastUpdate() UpdateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[len(m.updates)-1]
}

func (m *MockOrderAPI) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type MockAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (m *MockAlerter) Alert(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func (m *MockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type MockConfirmer struct {
	answer bool
	asked  int
}

func (m *MockConfirmer) Confirm(string) bool {
	m.asked++
	return m.answer
}

type MockJournal struct {
	mu     sync.Mutex
	drafts map[uint]*Draft
}

func NewMockJournal() *MockJournal {
	return &MockJournal{drafts: make(map[uint]*Draft)}
}

func (m *MockJournal) SaveDraft(tableID uint, current, confirmed *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[tableID] = &Draft{TableID: tableID, Current: current.Clone(), Confirmed: confirmed.Clone()}
	return nil
}

func (m *MockJournal) LoadDraft(tableID uint) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[tableID], nil
}

func (m *MockJournal) ClearDraft(tableID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, tableID)
	return nil
}

func (m *MockJournal) has(tableID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.drafts[tableID]
	return ok
}

// waitFor polls cond until it holds or a second has passed
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func testProduct(id uint, name string, price int64) models.Product {
	return models.Product{ID: id, Name: name, Price: decimal.NewFromInt(price), IsActive: true}
}
