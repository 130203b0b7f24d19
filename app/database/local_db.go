package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"RestoPOS/app/models"
	"RestoPOS/app/ordersync"
)

// LocalDB is the till's own SQLite database. It journals unsent order edits
// so they survive a crash of the till.
type LocalDB struct {
	db     *gorm.DB
	dbPath string
}

var _ ordersync.Journal = (*LocalDB)(nil)

// LocalDraft is the journaled state of one table's order
type LocalDraft struct {
	TableID       uint      `gorm:"primaryKey"`
	OrderID       string    `gorm:"size:36;index"`
	CurrentData   string    `json:"current_data"`   // JSON serialized order
	ConfirmedData string    `json:"confirmed_data"` // JSON serialized order
	UpdatedAt     time.Time `json:"updated_at"`
}

// OpenLocalDB opens (or creates) the till database at dbPath
func OpenLocalDB(dbPath string) (*LocalDB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to local database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	l := &LocalDB{db: db, dbPath: dbPath}
	if err := l.db.AutoMigrate(&LocalDraft{}); err != nil {
		return nil, fmt.Errorf("failed to run local migrations: %w", err)
	}
	return l, nil
}

// SaveDraft stores the latest current and confirmed orders of a table
func (l *LocalDB) SaveDraft(tableID uint, current, confirmed *models.Order) error {
	if current == nil {
		return l.ClearDraft(tableID)
	}
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	confirmedJSON, err := json.Marshal(confirmed)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}

	draft := LocalDraft{
		TableID:       tableID,
		OrderID:       current.ID,
		CurrentData:   string(currentJSON),
		ConfirmedData: string(confirmedJSON),
		UpdatedAt:     time.Now(),
	}
	return l.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&draft).Error
}

// LoadDraft returns the table's draft, or nil when there is none
func (l *LocalDB) LoadDraft(tableID uint) (*ordersync.Draft, error) {
	var row LocalDraft
	err := l.db.First(&row, "table_id = ?", tableID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	draft := &ordersync.Draft{TableID: tableID}
	if err := json.Unmarshal([]byte(row.CurrentData), &draft.Current); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ConfirmedData), &draft.Confirmed); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return draft, nil
}

// ClearDraft removes the table's draft
func (l *LocalDB) ClearDraft(tableID uint) error {
	return l.db.Delete(&LocalDraft{}, "table_id = ?", tableID).Error
}

// ClearOldDrafts removes drafts untouched for more than maxAge
func (l *LocalDB) ClearOldDrafts(maxAge time.Duration) (int64, error) {
	result := l.db.Where("updated_at < ?", time.Now().Add(-maxAge)).Delete(&LocalDraft{})
	return result.RowsAffected, result.Error
}

// Path returns the database file path
func (l *LocalDB) Path() string {
	return l.dbPath
}

// Close closes the local database connection
func (l *LocalDB) Close() error {
	return Close(l.db)
}
