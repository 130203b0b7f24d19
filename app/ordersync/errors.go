package ordersync

import "errors"

var (
	ErrNoOrder          = errors.New("no order is open")
	ErrItemNotFound     = errors.New("item not found")
	ErrItemNotPending   = errors.New("item was already sent to the kitchen")
	ErrUnpersistedItems = errors.New("some pending items were not persisted by the server")
	ErrClosed           = errors.New("order session closed")
)
