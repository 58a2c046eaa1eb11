package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// balanceRow stores amounts as text so sqlite keeps full 128-bit precision.
type balanceRow struct {
	Asset     string          `gorm:"primaryKey;size:128"`
	Holder    string          `gorm:"primaryKey;size:128"`
	Amount    decimal.Decimal `gorm:"type:varchar(64);not null"`
	UpdatedAt time.Time
}

func (balanceRow) TableName() string { return "ledger_balances" }

type transferRow struct {
	ID        uuid.UUID       `gorm:"primaryKey;type:uuid"`
	Asset     string          `gorm:"size:128;index"`
	FromID    string          `gorm:"column:from_holder;size:128;index"`
	ToID      string          `gorm:"column:to_holder;size:128;index"`
	Amount    decimal.Decimal `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time
}

func (transferRow) TableName() string { return "ledger_transfers" }

// GormLedger keeps balances in a SQL database. Every batch runs in one
// database transaction; postgres rows are locked FOR UPDATE.
type GormLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

var (
	_ Ledger  = (*GormLedger)(nil)
	_ Batcher = (*GormLedger)(nil)
)

func NewGormLedger(db *gorm.DB, logger *zap.Logger) *GormLedger {
	return &GormLedger{db: db, logger: logger}
}

// AutoMigrate creates the balance and transfer tables.
func (l *GormLedger) AutoMigrate() error {
	return l.db.AutoMigrate(&balanceRow{}, &transferRow{})
}

func (l *GormLedger) Balance(ctx context.Context, asset models.AssetID, holder models.Identity) (decimal.Decimal, error) {
	row, err := l.loadRow(l.db.WithContext(ctx), asset, holder, false)
	if err != nil {
		return decimal.Zero, err
	}
	return row.Amount, nil
}

// Mint credits holder with amount of asset.
func (l *GormLedger) Mint(ctx context.Context, asset models.AssetID, holder models.Identity, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := l.loadRow(tx, asset, holder, true)
		if err != nil {
			return err
		}
		if row.Amount, err = credit(asset, holder, row.Amount, amount); err != nil {
			return err
		}
		return l.saveRow(tx, row)
	})
}

func (l *GormLedger) Transfer(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error {
	return l.TransferBatch(ctx, []Transfer{{Asset: asset, From: from, To: to, Amount: amount}})
}

func (l *GormLedger) TransferBatch(ctx context.Context, transfers []Transfer) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, t := range transfers {
			if err := l.transferInTx(tx, t); err != nil {
				return fmt.Errorf("transfer %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Debug("ledger batch rolled back", zap.Int("transfers", len(transfers)), zap.Error(err))
	}
	return err
}

func (l *GormLedger) transferInTx(tx *gorm.DB, t Transfer) error {
	if err := checkAmount(t.Amount); err != nil {
		return err
	}
	from, err := l.loadRow(tx, t.Asset, t.From, true)
	if err != nil {
		return err
	}
	if from.Amount.LessThan(t.Amount) {
		return insufficient(t.Asset, t.From, from.Amount, t.Amount)
	}
	if t.From != t.To {
		to, err := l.loadRow(tx, t.Asset, t.To, true)
		if err != nil {
			return err
		}
		if to.Amount, err = credit(t.Asset, t.To, to.Amount, t.Amount); err != nil {
			return err
		}
		from.Amount = from.Amount.Sub(t.Amount)
		if err := l.saveRow(tx, from); err != nil {
			return err
		}
		if err := l.saveRow(tx, to); err != nil {
			return err
		}
	}
	return tx.Create(&transferRow{
		ID:     uuid.New(),
		Asset:  string(t.Asset),
		FromID: string(t.From),
		ToID:   string(t.To),
		Amount: t.Amount,
	}).Error
}

func (l *GormLedger) loadRow(tx *gorm.DB, asset models.AssetID, holder models.Identity, lock bool) (*balanceRow, error) {
	q := tx
	if lock && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row balanceRow
	err := q.Where("asset = ? AND holder = ?", string(asset), string(holder)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &balanceRow{Asset: string(asset), Holder: string(holder), Amount: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	return &row, nil
}

func (l *GormLedger) saveRow(tx *gorm.DB, row *balanceRow) error {
	row.UpdatedAt = time.Now().UTC()
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "holder"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}
