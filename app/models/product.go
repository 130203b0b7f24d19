package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product represents a product in the menu
type Product struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	Name        string              `gorm:"not null" json:"name"`
	Description string              `json:"description"`
	Price       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price"`
	CategoryID  uint                `json:"category_id"`
	Category    *Category           `json:"category,omitempty"`
	Ingredients []ProductIngredient `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"ingredients,omitempty"`
	IsActive    bool                `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	DeletedAt   gorm.DeletedAt      `gorm:"index" json:"-"`
}

// Category represents a product category
type Category struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"not null;unique" json:"name"`
	Color        string         `json:"color"` // For UI display
	DisplayOrder int            `json:"display_order"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// ProductIngredient is an ingredient of a product's recipe that guests may ask to leave out.
// Optional ingredients with IncludedByDefault=false are excluded unless asked for.
type ProductIngredient struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	ProductID         uint   `gorm:"not null;index" json:"product_id"`
	Name              string `gorm:"not null" json:"name"`
	Optional          bool   `json:"optional"`
	IncludedByDefault bool   `gorm:"not null" json:"included_by_default"`
}

// TableName specifies the table name for ProductIngredient
func (ProductIngredient) TableName() string {
	return "product_ingredients"
}

// Customization is the outcome of the customize-product dialog
type Customization struct {
	Quantity            float64  `json:"quantity"`
	Comment             string   `json:"comment"`
	ExcludedIngredients []string `json:"excluded_ingredients"`
}
