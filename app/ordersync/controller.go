package ordersync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"RestoPOS/app/models"
)

const (
	DefaultSyncDelay     = 300 * time.Millisecond
	DefaultDrainAttempts = 5
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	SyncDelay     time.Duration
	DrainAttempts int
	IDs           IDSource
	Logger        Logger
	Alerter       Alerter
	Journal       Journal
}

// State is a copy of the three views of the order
type State struct {
	Current       *models.Order
	Confirmed     *models.Order
	PendingServer *models.Order
}

// Controller keeps a table's order editable locally while the server stays the
// source of truth. Local edits are applied optimistically, debounced into one
// UpdateOrder call, and written through a single-flight queue. Server pushes
// that arrive while edits are outstanding are held until the till is back in
// sync with the server.
type Controller struct {
	api   OrderAPI
	sched *Scheduler

	syncDelay     time.Duration
	drainAttempts int
	ids           IDSource
	log           Logger
	alert         Alerter
	journal       Journal

	ctx    context.Context
	cancel context.CancelFunc

	refreshQueued atomic.Bool

	mu       sync.Mutex
	store    *Store
	tableID  uint
	baseline []models.LineItem // last item list received from the server
	closed   bool
}

// NewController creates a controller for one order-taking session
func NewController(api OrderAPI, opts Options) *Controller {
	if opts.SyncDelay <= 0 {
		opts.SyncDelay = DefaultSyncDelay
	}
	if opts.DrainAttempts <= 0 {
		opts.DrainAttempts = DefaultDrainAttempts
	}
	if opts.IDs == nil {
		opts.IDs = NewTempIDGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Alerter == nil {
		opts.Alerter = nopAlerter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		api:           api,
		sched:         NewScheduler(),
		syncDelay:     opts.SyncDelay,
		drainAttempts: opts.DrainAttempts,
		ids:           opts.IDs,
		log:           opts.Logger,
		alert:         opts.Alerter,
		journal:       opts.Journal,
		ctx:           ctx,
		cancel:        cancel,
		store:         NewStore(),
	}
}

// Open creates or fetches the table's order and makes it the session's order.
// Unsent edits journaled by a previous session are restored when the server
// has not moved on since.
func (c *Controller) Open(ctx context.Context, tableID uint) error {
	order, err := c.api.CreateOrGetOrder(ctx, tableID)
	if err != nil {
		return fmt.Errorf("failed to open order for table %d: %w", tableID, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.tableID = tableID
	c.store.SetBoth(order)
	c.store.SetPendingServer(nil)
	c.baseline = models.CloneItems(order.Items)
	restored := c.restoreDraftLocked(order)
	c.mu.Unlock()

	c.log.LogInfo("Order opened", fmt.Sprintf("table=%d order=%s items=%d", tableID, order.ID, len(order.Items)))
	if restored {
		c.log.LogInfo("Restored unsent edits from draft journal", fmt.Sprintf("table=%d", tableID))
		c.scheduleSync()
	}
	return nil
}

// Order returns a copy of the order as the till currently shows it
func (c *Controller) Order() *models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Current()
}

// State returns copies of current, confirmed and pending server orders
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Current:       c.store.Current(),
		Confirmed:     c.store.Confirmed(),
		PendingServer: c.store.PendingServer(),
	}
}

// HasUnsentChanges reports whether the till shows edits the server has not confirmed
func (c *Controller) HasUnsentChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.store.Synchronized()
}

// AddProduct adds a customized product, coalescing it with an identical pending item
func (c *Controller) AddProduct(product models.Product, customization models.Customization) error {
	return c.edit(true, func(order *models.Order) error {
		order.Items = MergeIntoPending(order.Items, product, customization, c.ids, DefaultExclusions(product))
		return nil
	})
}

// ChangeQuantity adds delta to a pending item's quantity. The item is removed
// when the result is not positive.
func (c *Controller) ChangeQuantity(itemID string, delta int) error {
	return c.edit(true, func(order *models.Order) error {
		idx, err := pendingIndex(order, itemID)
		if err != nil {
			return err
		}
		return setQuantityAt(order, idx, order.Items[idx].Quantity+delta)
	})
}

// SetQuantity sets a pending item's quantity; a non-positive value removes it
func (c *Controller) SetQuantity(itemID string, quantity int) error {
	return c.edit(true, func(order *models.Order) error {
		idx, err := pendingIndex(order, itemID)
		if err != nil {
			return err
		}
		return setQuantityAt(order, idx, quantity)
	})
}

// EditComment changes a pending item's comment. While commit is false the
// edit stays local (the comment is still being typed); committing normalizes
// the comment, coalesces items that became identical and schedules a sync.
func (c *Controller) EditComment(itemID, comment string, commit bool) error {
	return c.edit(commit, func(order *models.Order) error {
		idx, err := pendingIndex(order, itemID)
		if err != nil {
			return err
		}
		if !commit {
			order.Items[idx].Comment = comment
			return nil
		}
		order.Items[idx].Comment = NormalizeComment(comment)
		order.Items = coalescePending(order.Items)
		return nil
	})
}

// RemoveItem deletes a pending item
func (c *Controller) RemoveItem(itemID string) error {
	return c.edit(true, func(order *models.Order) error {
		idx, err := pendingIndex(order, itemID)
		if err != nil {
			return err
		}
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		return nil
	})
}

func (c *Controller) edit(sync bool, fn func(order *models.Order) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	current := c.store.Current()
	if current == nil {
		c.mu.Unlock()
		return ErrNoOrder
	}
	if err := fn(current); err != nil {
		c.mu.Unlock()
		return err
	}
	current.RecalculateTotal()
	c.store.SetCurrent(current)
	c.afterChangeLocked()
	shouldSync := sync && current.ID != ""
	c.mu.Unlock()

	if shouldSync {
		c.scheduleSync()
	}
	return nil
}

func (c *Controller) scheduleSync() {
	c.sched.Schedule(c.syncDelay, func() {
		c.sched.Enqueue(c.ctx, c.syncTask)
	})
}

// SyncNow drops the debounce delay and writes the current order right away
func (c *Controller) SyncNow(ctx context.Context) error {
	c.sched.Cancel()
	return c.sched.RunExclusive(ctx, c.syncTask)
}

// syncTask runs inside the write queue. It reads the order when it starts, so
// writes queued behind each other always see the IDs the previous one assigned.
func (c *Controller) syncTask(ctx context.Context) error {
	c.mu.Lock()
	current := c.store.Current()
	if current == nil || current.ID == "" {
		c.mu.Unlock()
		return nil
	}
	removed := removedItemIDs(c.baseline, current.Items)
	if c.store.Synchronized() && len(removed) == 0 && !hasUnpersistedPending(current.Items) {
		c.mu.Unlock()
		return nil
	}
	generation := c.store.CurrentGeneration()
	req := UpdateRequest{Items: current.Items, RemovedItemIDs: removed}
	c.mu.Unlock()

	updated, err := c.api.UpdateOrder(ctx, current.ID, req)
	if err != nil {
		c.log.LogError("Order sync failed", err, "order="+current.ID)
		c.alert.Alert("The order could not be saved and will be reloaded from the server: " + err.Error())
		c.refetch(ctx, current.ID)
		return fmt.Errorf("failed to update order %s: %w", current.ID, err)
	}

	c.mu.Lock()
	c.applyServerWriteLocked(updated, req.Items, generation)
	c.mu.Unlock()
	return nil
}

// applyServerWriteLocked records the server's answer to a write of sent. If
// the till was edited while the write was in flight the edits are folded into
// the server's answer by mergeServerWrite.
func (c *Controller) applyServerWriteLocked(updated *models.Order, sent []models.LineItem, generation uint64) {
	if updated == nil {
		return
	}
	c.baseline = models.CloneItems(updated.Items)
	c.store.SetConfirmed(updated)

	if c.store.CurrentGeneration() == generation {
		c.store.SetCurrent(updated)
	} else {
		current := c.store.Current()
		current.Items = mergeServerWrite(current.Items, sent, updated.Items)
		current.Status = updated.Status
		current.KitchenStatus = updated.KitchenStatus
		current.RecalculateTotal()
		c.store.SetCurrent(current)
	}
	c.afterChangeLocked()
}

// refetch replaces all local state with the server's order
func (c *Controller) refetch(ctx context.Context, orderID string) {
	c.sched.Cancel()
	order, err := c.api.GetOrder(ctx, orderID)
	if err != nil {
		c.log.LogError("Order refetch failed", err, "order="+orderID)
		return
	}
	if order == nil {
		c.log.LogWarning("Order disappeared from server", "order="+orderID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.SetBoth(order)
	c.store.SetPendingServer(nil)
	c.baseline = models.CloneItems(order.Items)
	c.afterChangeLocked()
}

// HandleServerRefresh feeds an order state pulled from the server. It is
// adopted right away when the till has no unsent edits, otherwise held until
// the edits are confirmed. A push equal to the confirmed state is redundant.
func (c *Controller) HandleServerRefresh(order *models.Order) {
	if order == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.store.Current()
	if current == nil || c.closed {
		return
	}
	if current.ID != "" && order.ID != current.ID {
		c.log.LogWarning("Ignoring refresh for another order", fmt.Sprintf("got=%s want=%s", order.ID, current.ID))
		return
	}

	if c.store.Synchronized() {
		c.store.SetBoth(order)
		c.store.SetPendingServer(nil)
		c.baseline = models.CloneItems(order.Items)
		c.afterChangeLocked()
		return
	}

	if ComputeSnapshot(order.Items).Equal(c.store.ConfirmedSnapshot()) {
		c.store.SetPendingServer(nil)
		return
	}
	c.store.SetPendingServer(order)
}

// Refresh pulls the order from the server and feeds it to HandleServerRefresh.
// The read goes through the write queue so it can never observe a state older
// than a write the till already issued.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.sched.RunExclusive(ctx, c.refreshTask)
}

// RequestRefresh queues a refresh without waiting for it. It never blocks
// and requests made while one is already queued share it, so it is safe to
// call from notification handlers such as the orders_updated subscription.
func (c *Controller) RequestRefresh() {
	if !c.refreshQueued.CompareAndSwap(false, true) {
		return
	}
	if !c.sched.TryEnqueue(c.ctx, c.queuedRefreshTask) {
		c.refreshQueued.Store(false)
		c.log.LogWarning("Refresh request dropped, write queue is full or closed")
	}
}

func (c *Controller) queuedRefreshTask(ctx context.Context) error {
	// cleared first so a notification arriving during the read queues another
	c.refreshQueued.Store(false)
	return c.refreshTask(ctx)
}

func (c *Controller) refreshTask(ctx context.Context) error {
	c.mu.Lock()
	current := c.store.Current()
	c.mu.Unlock()
	if current == nil || current.ID == "" {
		return nil
	}

	order, err := c.api.GetOrder(ctx, current.ID)
	if err != nil {
		c.log.LogWarning("Order refresh failed", err.Error())
		return fmt.Errorf("failed to refresh order %s: %w", current.ID, err)
	}
	c.HandleServerRefresh(order)
	return nil
}

// SendToKitchen drains unsent edits and then sends every pending item to the
// kitchen. Nothing is sent if a pending item still lacks a persisted ID.
func (c *Controller) SendToKitchen(ctx context.Context) error {
	c.sched.Cancel()

	for attempt := 0; attempt < c.drainAttempts; attempt++ {
		c.mu.Lock()
		current := c.store.Current()
		if current == nil {
			c.mu.Unlock()
			return ErrNoOrder
		}
		needsSync := !c.store.Synchronized() || hasUnpersistedPending(current.Items)
		c.mu.Unlock()
		if !needsSync {
			break
		}
		if err := c.sched.RunExclusive(ctx, c.syncTask); err != nil {
			return fmt.Errorf("failed to save order before sending to kitchen: %w", err)
		}
	}

	c.mu.Lock()
	current := c.store.Current()
	if hasUnpersistedPending(current.Items) {
		c.mu.Unlock()
		c.log.LogWarning("Kitchen submission aborted: pending items without persisted IDs", "order="+current.ID)
		return ErrUnpersistedItems
	}
	var itemIDs []string
	for _, item := range current.Items {
		if item.Status.IsPending() {
			itemIDs = append(itemIDs, item.ID)
		}
	}
	generation := c.store.CurrentGeneration()
	c.mu.Unlock()

	if len(itemIDs) == 0 {
		return nil
	}

	var updated *models.Order
	err := c.sched.RunExclusive(ctx, func(ctx context.Context) error {
		var err error
		updated, err = c.api.SendToKitchen(ctx, current.ID, itemIDs)
		return err
	})
	if err != nil {
		c.log.LogError("Send to kitchen failed", err, "order="+current.ID)
		c.alert.Alert("The order could not be sent to the kitchen: " + err.Error())
		return fmt.Errorf("failed to send order %s to kitchen: %w", current.ID, err)
	}

	c.mu.Lock()
	c.applyServerWriteLocked(updated, current.Items, generation)
	c.mu.Unlock()
	c.log.LogInfo("Order sent to kitchen", fmt.Sprintf("order=%s items=%d", current.ID, len(itemIDs)))
	return nil
}

// MarkServed marks everything sent to the kitchen as served
func (c *Controller) MarkServed(ctx context.Context) error {
	c.mu.Lock()
	current := c.store.Current()
	generation := c.store.CurrentGeneration()
	c.mu.Unlock()
	if current == nil || current.ID == "" {
		return ErrNoOrder
	}

	var updated *models.Order
	err := c.sched.RunExclusive(ctx, func(ctx context.Context) error {
		var err error
		updated, err = c.api.MarkServed(ctx, current.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark order %s served: %w", current.ID, err)
	}

	c.mu.Lock()
	c.applyServerWriteLocked(updated, current.Items, generation)
	c.mu.Unlock()
	return nil
}

// Finalize settles the order. Unsent edits are written first. A receipt that
// fails to upload does not block payment; it can be attached later.
func (c *Controller) Finalize(ctx context.Context, paymentMethod string, receipt []byte) error {
	paymentMethod = strings.TrimSpace(paymentMethod)
	if paymentMethod == "" {
		return fmt.Errorf("payment method is required")
	}
	if c.HasUnsentChanges() {
		if err := c.SyncNow(ctx); err != nil {
			return fmt.Errorf("failed to save order before payment: %w", err)
		}
	}
	current := c.Order()
	if current == nil || current.ID == "" {
		return ErrNoOrder
	}

	receiptURL := ""
	if len(receipt) > 0 {
		url, err := c.api.UploadReceipt(ctx, current.ID, receipt)
		if err != nil {
			c.log.LogWarning("Receipt upload failed, finalizing without receipt", err.Error())
		} else {
			receiptURL = url
		}
	}

	err := c.sched.RunExclusive(ctx, func(ctx context.Context) error {
		return c.api.Finalize(ctx, current.ID, paymentMethod, receiptURL)
	})
	if err != nil {
		c.alert.Alert("Payment could not be recorded: " + err.Error())
		return fmt.Errorf("failed to finalize order %s: %w", current.ID, err)
	}

	c.mu.Lock()
	paid := c.store.Current()
	paid.Status = models.OrderStatusPaid
	c.store.SetBoth(paid)
	c.store.SetPendingServer(nil)
	c.clearDraftLocked()
	c.mu.Unlock()

	c.log.LogInfo("Order finalized", fmt.Sprintf("order=%s method=%s receipt=%t", current.ID, paymentMethod, receiptURL != ""))
	return nil
}

// Exit ends the session. With unsent edits the person at the till must
// confirm; confirming cancels an order that never reached the kitchen, or
// rolls the edits back to the confirmed state. It reports whether the till
// may leave.
func (c *Controller) Exit(ctx context.Context, confirmer Confirmer) (bool, error) {
	c.mu.Lock()
	current := c.store.Current()
	confirmed := c.store.Confirmed()
	unsent := !c.store.Synchronized()
	c.mu.Unlock()

	if current == nil || !unsent {
		return true, nil
	}
	if confirmer == nil || !confirmer.Confirm("There are unsent changes. Leave and discard them?") {
		return false, nil
	}
	c.sched.Cancel()

	neverSent := confirmed != nil && confirmed.ID != "" &&
		(confirmed.KitchenStatus == models.KitchenNotSent || confirmed.KitchenStatus == "") &&
		!confirmed.HasSentItems() && !current.HasSentItems()

	if neverSent {
		err := c.sched.RunExclusive(ctx, func(ctx context.Context) error {
			return c.api.CancelUnsentOrder(ctx, confirmed.ID)
		})
		if err != nil {
			return false, fmt.Errorf("failed to cancel order %s: %w", confirmed.ID, err)
		}
		c.mu.Lock()
		confirmed.Status = models.OrderStatusCancelled
		c.store.SetBoth(confirmed)
		c.store.SetPendingServer(nil)
		c.clearDraftLocked()
		c.mu.Unlock()
		c.log.LogInfo("Unsent order cancelled", "order="+confirmed.ID)
		return true, nil
	}

	c.mu.Lock()
	c.store.SetCurrent(confirmed)
	c.afterChangeLocked()
	c.mu.Unlock()
	c.log.LogInfo("Unsent edits rolled back", "order="+confirmed.ID)
	return true, nil
}

// Close tears the session down. The debounce timer is cleared; a write that
// is already queued still completes.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.sched.Close()
	c.cancel()
}

// afterChangeLocked runs after every state change: once the till is back in
// sync a deferred server push is adopted, and the draft journal follows.
func (c *Controller) afterChangeLocked() {
	if c.store.Synchronized() {
		c.adoptPendingLocked()
		c.clearDraftLocked()
		return
	}
	c.saveDraftLocked()
}

func (c *Controller) adoptPendingLocked() {
	pending := c.store.PendingServer()
	if pending == nil {
		return
	}
	c.store.SetPendingServer(nil)
	if ComputeSnapshot(pending.Items).Equal(c.store.CurrentSnapshot()) {
		return
	}
	c.store.SetBoth(pending)
	c.baseline = models.CloneItems(pending.Items)
}

func (c *Controller) saveDraftLocked() {
	if c.journal == nil || c.tableID == 0 {
		return
	}
	if err := c.journal.SaveDraft(c.tableID, c.store.Current(), c.store.Confirmed()); err != nil {
		c.log.LogWarning("Could not journal draft", err.Error())
	}
}

func (c *Controller) clearDraftLocked() {
	if c.journal == nil || c.tableID == 0 {
		return
	}
	if err := c.journal.ClearDraft(c.tableID); err != nil {
		c.log.LogWarning("Could not clear draft", err.Error())
	}
}

func (c *Controller) restoreDraftLocked(order *models.Order) bool {
	if c.journal == nil {
		return false
	}
	draft, err := c.journal.LoadDraft(c.tableID)
	if err != nil {
		c.log.LogWarning("Could not load draft", err.Error())
		return false
	}
	if draft == nil || draft.Current == nil || draft.Confirmed == nil {
		return false
	}

	discard := func(reason string) bool {
		c.log.LogWarning("Discarding draft", fmt.Sprintf("table=%d reason=%s", c.tableID, reason))
		c.clearDraftLocked()
		return false
	}
	if draft.Current.ID != order.ID {
		return discard("different order")
	}
	draftConfirmed := ComputeSnapshot(draft.Confirmed.Items)
	if ComputeSnapshot(draft.Current.Items).Equal(draftConfirmed) {
		return discard("no unsent changes")
	}
	if !draftConfirmed.Equal(ComputeSnapshot(order.Items)) {
		return discard("server order changed since the draft was written")
	}

	current := draft.Current.Clone()
	current.Items = migrateTempIDs(current.Items, order.Items)
	current.Status = order.Status
	current.KitchenStatus = order.KitchenStatus
	current.RecalculateTotal()
	c.store.SetCurrent(current)
	return true
}

func pendingIndex(order *models.Order, itemID string) (int, error) {
	idx := order.FindItem(itemID)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if !order.Items[idx].Status.IsPending() {
		return -1, fmt.Errorf("%w: %s", ErrItemNotPending, itemID)
	}
	return idx, nil
}

func setQuantityAt(order *models.Order, idx, quantity int) error {
	if quantity <= 0 {
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
		return nil
	}
	order.Items[idx].Quantity = quantity
	return nil
}

func hasUnpersistedPending(items []models.LineItem) bool {
	for _, item := range items {
		if item.Status.IsPending() && !IsPersistedID(item.ID) {
			return true
		}
	}
	return false
}

// removedItemIDs lists persisted items of the baseline that are gone from items
func removedItemIDs(baseline, items []models.LineItem) []string {
	present := make(map[string]struct{}, len(items))
	for _, item := range items {
		present[item.ID] = struct{}{}
	}
	var removed []string
	for _, item := range baseline {
		if !IsPersistedID(item.ID) {
			continue
		}
		if _, ok := present[item.ID]; !ok {
			removed = append(removed, item.ID)
		}
	}
	return removed
}

// migrateTempIDs swaps temporary IDs for the persisted IDs the server echoed
// back through ClientRef, then drops items that ended up sharing an ID.
func migrateTempIDs(local, server []models.LineItem) []models.LineItem {
	persisted := make(map[string]string)
	for _, item := range server {
		if item.ClientRef != "" && IsPersistedID(item.ID) {
			persisted[item.ClientRef] = item.ID
		}
	}

	out := make([]models.LineItem, 0, len(local))
	seen := make(map[string]struct{}, len(local))
	for _, item := range local {
		if id, ok := persisted[item.ID]; ok {
			item.ClientRef = item.ID
			item.ID = id
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// mergeServerWrite folds the server's answer to a write of sent into local,
// the item list the till edited while the write was in flight. Temporary IDs
// are migrated and items the server moved past pending take the server's
// copy. Server items the write did not carry were added elsewhere and are
// kept; pending ones it did carry but local no longer has were removed here.
func mergeServerWrite(local, sent, server []models.LineItem) []models.LineItem {
	items := migrateTempIDs(local, server)

	serverIdx := make(map[string]int, len(server))
	for i, item := range server {
		serverIdx[item.ID] = i
	}
	known := make(map[string]struct{}, len(items))
	for i := range items {
		known[items[i].ID] = struct{}{}
		if j, ok := serverIdx[items[i].ID]; ok && !server[j].Status.IsPending() {
			items[i] = server[j].Clone()
		}
	}

	wasSent := make(map[string]struct{}, len(sent))
	for _, item := range sent {
		wasSent[item.ID] = struct{}{}
	}
	for _, item := range server {
		if _, ok := known[item.ID]; ok {
			continue
		}
		_, carried := wasSent[item.ID]
		if !carried && item.ClientRef != "" {
			_, carried = wasSent[item.ClientRef]
		}
		if carried && item.Status.IsPending() {
			continue
		}
		items = append(items, item.Clone())
	}
	return items
}

// coalescePending merges pending items that share product, comment and
// exclusions. The surviving item prefers a persisted ID.
func coalescePending(items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		merged := false
		if item.Status.IsPending() {
			for i := range out {
				existing := &out[i]
				if !existing.Status.IsPending() || existing.ProductID != item.ProductID {
					continue
				}
				if NormalizeComment(existing.Comment) != NormalizeComment(item.Comment) ||
					!sameExclusions(existing.ExcludedIngredients, item.ExcludedIngredients) {
					continue
				}
				existing.Quantity += item.Quantity
				if !IsPersistedID(existing.ID) && IsPersistedID(item.ID) {
					existing.ID = item.ID
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, item)
		}
	}
	return out
}
