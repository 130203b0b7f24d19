package ordersync

import (
	"math"
	"sort"
	"strings"

	"RestoPOS/app/models"
)

// NormalizeComment trims a free-text comment
func NormalizeComment(comment string) string {
	return strings.TrimSpace(comment)
}

// NormalizeQuantity floors finite quantities with a minimum of 1; anything
// else becomes 1.
func NormalizeQuantity(quantity float64) int {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 1
	}
	q := math.Floor(quantity)
	if q < 1 {
		return 1
	}
	if q > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(q)
}

// exclusionKey returns the trimmed, deduplicated and sorted exclusion set
func exclusionKey(names []string) []string {
	set := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := set[name]; ok {
			continue
		}
		set[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sameExclusions(a, b []string) bool {
	ka, kb := exclusionKey(a), exclusionKey(b)
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// DefaultExclusions lists the product's optional ingredients that are left
// out unless the guest asks for them.
func DefaultExclusions(product models.Product) []string {
	var names []string
	for _, ingredient := range product.Ingredients {
		if ingredient.Optional && !ingredient.IncludedByDefault {
			names = append(names, ingredient.Name)
		}
	}
	return names
}

// MergeIntoPending folds a customized product into the item list. A pending
// item with the same product, comment and exclusion set gets its quantity
// increased; otherwise a new pending item is appended. The input slice is
// never modified.
func MergeIntoPending(items []models.LineItem, product models.Product, customization models.Customization, ids IDSource, defaultExclusions []string) []models.LineItem {
	comment := NormalizeComment(customization.Comment)
	quantity := NormalizeQuantity(customization.Quantity)
	excluded := exclusionKey(append(append([]string(nil), customization.ExcludedIngredients...), defaultExclusions...))

	out := models.CloneItems(items)
	for i := range out {
		item := &out[i]
		if !item.Status.IsPending() || item.ProductID != product.ID {
			continue
		}
		if NormalizeComment(item.Comment) != comment || !sameExclusions(item.ExcludedIngredients, excluded) {
			continue
		}
		item.Quantity += quantity
		return out
	}

	return append(out, models.LineItem{
		ID:                  ids.Next(),
		ProductID:           product.ID,
		ProductName:         product.Name,
		UnitPrice:           product.Price,
		Quantity:            quantity,
		Comment:             comment,
		ExcludedIngredients: models.StringList(excluded),
		Status:              models.ItemPending,
	})
}
