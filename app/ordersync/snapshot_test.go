package ordersync

import (
	"testing"

	"github.com/shopspring/decimal"

	"RestoPOS/app/models"
)

func TestComputeSnapshot(t *testing.T) {
	burger := models.LineItem{ID: "tmp-1", ProductID: 1, Quantity: 1, Comment: "no salt", Status: models.ItemPending}
	fries := models.LineItem{ID: "tmp-2", ProductID: 2, Quantity: 2, ExcludedIngredients: models.StringList{"salt", "ketchup"}}

	tests := []struct {
		name  string
		a, b  []models.LineItem
		equal bool
	}{
		{
			name:  "emptyAndNil",
			a:     nil,
			b:     []models.LineItem{},
			equal: true,
		},
		{
			name:  "ignoresItemOrder",
			a:     []models.LineItem{burger, fries},
			b:     []models.LineItem{fries, burger},
			equal: true,
		},
		{
			name: "ignoresIDsNamesAndPrices",
			a:    []models.LineItem{burger},
			b: []models.LineItem{func() models.LineItem {
				i := burger
				i.ID = "3f0e4bd6-5a3c-4d0e-9a8e-6f1e6c1a2b3c"
				i.ProductName = "Cheeseburger"
				i.UnitPrice = decimal.NewFromInt(99)
				return i
			}()},
			equal: true,
		},
		{
			name: "normalizesCommentAndExclusions",
			a:    []models.LineItem{fries},
			b: []models.LineItem{func() models.LineItem {
				i := fries
				i.Comment = "   "
				i.ExcludedIngredients = models.StringList{" ketchup", "salt", "salt"}
				return i
			}()},
			equal: true,
		},
		{
			name:  "emptyStatusIsPending",
			a:     []models.LineItem{burger},
			b:     []models.LineItem{func() models.LineItem { i := burger; i.Status = ""; return i }()},
			equal: true,
		},
		{
			name:  "quantityMatters",
			a:     []models.LineItem{burger},
			b:     []models.LineItem{func() models.LineItem { i := burger; i.Quantity = 2; return i }()},
			equal: false,
		},
		{
			name:  "statusMatters",
			a:     []models.LineItem{burger},
			b:     []models.LineItem{func() models.LineItem { i := burger; i.Status = models.ItemSent; return i }()},
			equal: false,
		},
		{
			name:  "extraItemMatters",
			a:     []models.LineItem{burger},
			b:     []models.LineItem{burger, fries},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSnapshot(tt.a).Equal(ComputeSnapshot(tt.b))
			if got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestSnapshotZeroValueIsEmpty(t *testing.T) {
	var zero Snapshot
	if !zero.Equal(ComputeSnapshot(nil)) {
		t.Error("zero Snapshot differs from the snapshot of no items")
	}
	if n := ComputeSnapshot([]models.LineItem{{ProductID: 1, Quantity: 1}}).Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}
