package models

import "regexp"

var persistedIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsPersistedID reports whether id is a server-assigned identifier in
// canonical UUID text form.
func IsPersistedID(id string) bool {
	return persistedIDPattern.MatchString(id)
}

// UpdateOrderRequest is the full item list of an order plus the persisted
// items the client removed since the last server state.
type UpdateOrderRequest struct {
	Items          []LineItem `json:"items"`
	RemovedItemIDs []string   `json:"removed_item_ids"`
}
