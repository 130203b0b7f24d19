package ordersync

import (
	"encoding/json"
	"sort"
	"strings"

	"RestoPOS/app/models"
)

// Snapshot is a value-comparable fingerprint of a line-item list.
// The zero value is the snapshot of an empty list.
type Snapshot struct {
	key   string
	items int
}

// snapshotEntry is the part of a line item that matters for synchronization.
// IDs, names and prices are left out: migrating a temporary ID to a persisted
// one must not look like a divergence.
type snapshotEntry struct {
	ProductID uint     `json:"p"`
	Comment   string   `json:"c"`
	Excluded  []string `json:"x"`
	Quantity  int      `json:"q"`
	Status    string   `json:"s"`
}

// ComputeSnapshot projects items into a Snapshot. Item order is ignored;
// status is part of every entry so pending and sent items never compare equal.
func ComputeSnapshot(items []models.LineItem) Snapshot {
	if len(items) == 0 {
		return Snapshot{}
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		status := item.Status
		if status == "" {
			status = models.ItemPending
		}
		data, _ := json.Marshal(snapshotEntry{
			ProductID: item.ProductID,
			Comment:   NormalizeComment(item.Comment),
			Excluded:  exclusionKey(item.ExcludedIngredients),
			Quantity:  item.Quantity,
			Status:    string(status),
		})
		lines = append(lines, string(data))
	}
	sort.Strings(lines)

	return Snapshot{key: strings.Join(lines, "\n"), items: len(items)}
}

// Equal reports whether both snapshots describe the same items
func (s Snapshot) Equal(other Snapshot) bool {
	return s == other
}

// Len returns the number of items the snapshot was computed from
func (s Snapshot) Len() int {
	return s.items
}

// snapshotCache remembers the snapshot of one state slice for one generation
type snapshotCache struct {
	generation uint64
	valid      bool
	snapshot   Snapshot
}

func (c *snapshotCache) get(generation uint64, items []models.LineItem) Snapshot {
	if c.valid && c.generation == generation {
		return c.snapshot
	}
	c.snapshot = ComputeSnapshot(items)
	c.generation = generation
	c.valid = true
	return c.snapshot
}
