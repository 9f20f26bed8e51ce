package viewsink

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"intentlend/crypto"
	"intentlend/native/viewcache"
)

// ViewRow is the relational shape of one view entry. Amounts are decimal
// strings so no backend truncates them.
type ViewRow struct {
	Owner      string `gorm:"primaryKey;size:64"`
	Asset      string `gorm:"primaryKey;size:64"`
	Collateral string `gorm:"not null"`
	Debt       string `gorm:"not null"`
	Version    uint64 `gorm:"not null"`
	UpdatedAt  uint64 `gorm:"not null;autoUpdateTime:false"`
}

func (ViewRow) TableName() string { return "view_entries" }

// OrderRow is the relational shape of one order lifecycle entry.
type OrderRow struct {
	OrderID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Borrower  string `gorm:"size:64;not null;index"`
	Status    string `gorm:"size:16;not null"`
	Repaid    string `gorm:"not null"`
	TotalDue  string `gorm:"not null"`
	Closed    bool   `gorm:"not null"`
	Version   uint64 `gorm:"not null"`
	UpdatedAt uint64 `gorm:"not null;autoUpdateTime:false"`
}

func (OrderRow) TableName() string { return "view_orders" }

// SQLView mirrors entries into a relational table.
type SQLView struct {
	db   *gorm.DB
	name string
}

// OpenSQL connects using dsn. postgres:// and postgresql:// URLs select the
// Postgres driver, anything else is treated as a SQLite path or URI.
func OpenSQL(dsn string) (*SQLView, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("viewsink: sql dsn required")
	}
	var dialector gorm.Dialector
	name := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
		name = "postgres"
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("viewsink: open %s: %w", name, err)
	}
	return NewSQLView(db, name)
}

// NewSQLView migrates the view tables on db.
func NewSQLView(db *gorm.DB, name string) (*SQLView, error) {
	if db == nil {
		return nil, fmt.Errorf("viewsink: nil database")
	}
	if err := db.AutoMigrate(&ViewRow{}, &OrderRow{}); err != nil {
		return nil, fmt.Errorf("viewsink: migrate: %w", err)
	}
	if name == "" {
		name = "sql"
	}
	return &SQLView{db: db, name: name}, nil
}

func (v *SQLView) Name() string { return v.name }

// Write upserts entry unless the stored row already carries a newer version.
// An equal version is overwritten: a write whose state transaction aborted
// leaves a row that the next committed write of that version must replace.
func (v *SQLView) Write(ctx context.Context, entry viewcache.Entry) error {
	row := toRow(entry)
	return v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"collateral", "debt", "version", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "view_entries.version <= excluded.version"},
		}},
	}).Create(&row).Error
}

// Get returns the mirrored entry for (user, asset). A zero user reads the
// statistics entry.
func (v *SQLView) Get(ctx context.Context, user, asset crypto.Address) (*viewcache.Entry, error) {
	var row ViewRow
	err := v.db.WithContext(ctx).First(&row, "owner = ? AND asset = ?", userKey(user), asset.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

// WriteOrder upserts an order entry with the same version rule as Write.
func (v *SQLView) WriteOrder(ctx context.Context, entry viewcache.OrderEntry) error {
	row := OrderRow{
		OrderID:   entry.OrderID,
		Borrower:  entry.Borrower.Hex(),
		Status:    entry.Status,
		Repaid:    amount(entry.Repaid),
		TotalDue:  amount(entry.TotalDue),
		Closed:    entry.Closed,
		Version:   entry.Version,
		UpdatedAt: entry.UpdatedAt,
	}
	return v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"borrower", "status", "repaid", "total_due", "closed", "version", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "view_orders.version <= excluded.version"},
		}},
	}).Create(&row).Error
}

// GetOrder returns the mirrored entry of order id, or nil when absent.
func (v *SQLView) GetOrder(ctx context.Context, id uint64) (*viewcache.OrderEntry, error) {
	var row OrderRow
	err := v.db.WithContext(ctx).First(&row, "order_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	borrower, err := crypto.ParseAddress(row.Borrower)
	if err != nil {
		return nil, fmt.Errorf("viewsink: borrower %q: %w", row.Borrower, err)
	}
	entry := &viewcache.OrderEntry{
		OrderID:   row.OrderID,
		Borrower:  borrower,
		Status:    row.Status,
		Closed:    row.Closed,
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}
	var ok bool
	if entry.Repaid, ok = new(big.Int).SetString(row.Repaid, 10); !ok {
		return nil, fmt.Errorf("viewsink: repaid %q", row.Repaid)
	}
	if entry.TotalDue, ok = new(big.Int).SetString(row.TotalDue, 10); !ok {
		return nil, fmt.Errorf("viewsink: total due %q", row.TotalDue)
	}
	return entry, nil
}

// Close releases the underlying connection pool.
func (v *SQLView) Close() error {
	sqlDB, err := v.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// statsUser is the key used for per-asset statistics rows.
const statsUser = "stats"

func userKey(a crypto.Address) string {
	if a.IsZero() {
		return statsUser
	}
	return a.Hex()
}

func toRow(e viewcache.Entry) ViewRow {
	return ViewRow{
		Owner:      userKey(e.User),
		Asset:      e.Asset.Hex(),
		Collateral: amount(e.Collateral),
		Debt:       amount(e.Debt),
		Version:    e.Version,
		UpdatedAt:  e.UpdatedAt,
	}
}

func fromRow(row ViewRow) (*viewcache.Entry, error) {
	entry := &viewcache.Entry{Version: row.Version, UpdatedAt: row.UpdatedAt}
	if row.Owner != statsUser {
		user, err := crypto.ParseAddress(row.Owner)
		if err != nil {
			return nil, fmt.Errorf("viewsink: owner %q: %w", row.Owner, err)
		}
		entry.User = user
	}
	asset, err := crypto.ParseAddress(row.Asset)
	if err != nil {
		return nil, fmt.Errorf("viewsink: asset %q: %w", row.Asset, err)
	}
	entry.Asset = asset
	var ok bool
	if entry.Collateral, ok = new(big.Int).SetString(row.Collateral, 10); !ok {
		return nil, fmt.Errorf("viewsink: collateral %q", row.Collateral)
	}
	if entry.Debt, ok = new(big.Int).SetString(row.Debt, 10); !ok {
		return nil, fmt.Errorf("viewsink: debt %q", row.Debt)
	}
	return entry, nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
