package ordersync

import "RestoPOS/app/models"

// Store holds the three views of a table's order. It is not safe for
// concurrent use; the Controller serializes access to it.
//
//   - current: what the till shows, possibly with unconfirmed local edits
//   - confirmed: the last state acknowledged by both till and server
//   - pendingServer: a server update that arrived while local edits were outstanding
//
// Every setter bumps the generation of the slice it replaces, so the cached
// snapshots are recomputed on the next read and never disagree with the state.
type Store struct {
	current       *models.Order
	confirmed     *models.Order
	pendingServer *models.Order

	currentGen   uint64
	confirmedGen uint64

	currentSnap   snapshotCache
	confirmedSnap snapshotCache
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Current returns a copy of the order as currently shown
func (s *Store) Current() *models.Order {
	return s.current.Clone()
}

// Confirmed returns a copy of the last confirmed order
func (s *Store) Confirmed() *models.Order {
	return s.confirmed.Clone()
}

// PendingServer returns a copy of the deferred server order, or nil
func (s *Store) PendingServer() *models.Order {
	return s.pendingServer.Clone()
}

// SetCurrent replaces the current order
func (s *Store) SetCurrent(order *models.Order) {
	s.current = order.Clone()
	s.currentGen++
}

// SetConfirmed replaces the confirmed order
func (s *Store) SetConfirmed(order *models.Order) {
	s.confirmed = order.Clone()
	s.confirmedGen++
}

// SetBoth replaces current and confirmed with the same server state
func (s *Store) SetBoth(order *models.Order) {
	s.SetCurrent(order)
	s.SetConfirmed(order)
}

// SetPendingServer holds or clears (nil) a deferred server order
func (s *Store) SetPendingServer(order *models.Order) {
	s.pendingServer = order.Clone()
}

// CurrentGeneration identifies the current slice; it changes on every SetCurrent
func (s *Store) CurrentGeneration() uint64 {
	return s.currentGen
}

// CurrentSnapshot returns the snapshot of the current items
func (s *Store) CurrentSnapshot() Snapshot {
	return s.currentSnap.get(s.currentGen, itemsOf(s.current))
}

// ConfirmedSnapshot returns the snapshot of the confirmed items
func (s *Store) ConfirmedSnapshot() Snapshot {
	return s.confirmedSnap.get(s.confirmedGen, itemsOf(s.confirmed))
}

// Synchronized reports whether current and confirmed describe the same items
func (s *Store) Synchronized() bool {
	return s.CurrentSnapshot().Equal(s.ConfirmedSnapshot())
}

func itemsOf(order *models.Order) []models.LineItem {
	if order == nil {
		return nil
	}
	return order.Items
}
