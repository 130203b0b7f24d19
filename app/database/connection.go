package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"RestoPOS/app/config"
	"RestoPOS/app/models"
)

// Logger is the subset of services.LoggerService the database layer uses
type Logger interface {
	LogInfo(message string, details ...string)
	LogWarning(message string, details ...string)
}

// buildDSN constructs the postgres connection string. DATABASE_URL (cfg.URL)
// wins over the individual fields.
func buildDSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)
}

// Open connects to the order database, runs migrations and seeds demo data
// when the catalog is empty and seeding is enabled.
func Open(cfg config.DatabaseConfig, log Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		gormConfig.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(buildDSN(cfg)), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
		log.LogInfo("Connected to PostgreSQL", fmt.Sprintf("host=%s db=%s", cfg.Host, cfg.Database))

	case "sqlite", "":
		db, err = openSQLite(cfg.Path, gormConfig)
		if err != nil {
			return nil, err
		}
		log.LogInfo("Opened SQLite database", cfg.Path)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if cfg.SeedDemo {
		seeded, err := SeedDemoData(db)
		if err != nil {
			log.LogWarning("Failed to seed demo data", err.Error())
		} else if seeded {
			log.LogInfo("Seeded demo tables and menu")
		}
	}
	return db, nil
}

// openSQLite opens a CGO-free sqlite database. ":memory:" stays in memory.
func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite allows a single writer
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// RunMigrations creates or updates the order server's tables
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		// Catalog
		&models.Category{},
		&models.Product{},
		&models.ProductIngredient{},

		// Orders
		&models.Table{},
		&models.Order{},
		&models.LineItem{},
		&models.Payment{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SeedDemoData creates demo tables and a small menu when there are no
// products yet. It reports whether anything was written.
func SeedDemoData(db *gorm.DB) (bool, error) {
	var count int64
	if err := db.Model(&models.Product{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for i := 1; i <= 8; i++ {
			table := models.Table{
				Number:   fmt.Sprintf("%d", i),
				Name:     fmt.Sprintf("Table %d", i),
				Capacity: 4,
				Status:   "available",
				IsActive: true,
			}
			if err := tx.Create(&table).Error; err != nil {
				return fmt.Errorf("failed to create table %d: %w", i, err)
			}
		}

		menu := []struct {
			category string
			products []models.Product
		}{
			{"Mains", []models.Product{
				{Name: "Classic Burger", Price: decimal.RequireFromString("12.50"), Ingredients: []models.ProductIngredient{
					{Name: "lettuce", Optional: true, IncludedByDefault: true},
					{Name: "tomato", Optional: true, IncludedByDefault: true},
					{Name: "onion", Optional: true, IncludedByDefault: true},
					{Name: "bacon", Optional: true, IncludedByDefault: false},
					{Name: "beef patty"},
				}},
				{Name: "Caesar Salad", Price: decimal.RequireFromString("9.00"), Ingredients: []models.ProductIngredient{
					{Name: "croutons", Optional: true, IncludedByDefault: true},
					{Name: "anchovies", Optional: true, IncludedByDefault: false},
					{Name: "parmesan", Optional: true, IncludedByDefault: true},
				}},
				{Name: "Margherita Pizza", Price: decimal.RequireFromString("11.00"), Ingredients: []models.ProductIngredient{
					{Name: "basil", Optional: true, IncludedByDefault: true},
				}},
			}},
			{"Sides", []models.Product{
				{Name: "Fries", Price: decimal.RequireFromString("4.00")},
				{Name: "Onion Rings", Price: decimal.RequireFromString("4.50")},
			}},
			{"Drinks", []models.Product{
				{Name: "Lemonade", Price: decimal.RequireFromString("3.00")},
				{Name: "Espresso", Price: decimal.RequireFromString("2.20")},
			}},
		}

		for i, section := range menu {
			category := models.Category{Name: section.category, DisplayOrder: i, IsActive: true}
			if err := tx.Create(&category).Error; err != nil {
				return fmt.Errorf("failed to create category %s: %w", section.category, err)
			}
			for _, product := range section.products {
				product.CategoryID = category.ID
				product.IsActive = true
				if err := tx.Create(&product).Error; err != nil {
					return fmt.Errorf("failed to create product %s: %w", product.Name, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
