package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is a single ingested financial record. Amount is absent (not
// zero) when the raw input carried no parseable value; Datetime is nil only
// when the raw input was non-blank and unparseable.
type Transaction struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	Description string              `gorm:"size:500;index:idx_txn_triple,priority:1" json:"description"`
	Category    string              `gorm:"size:255;index" json:"category"`
	Amount      decimal.NullDecimal `gorm:"type:decimal(12,2);index:idx_txn_triple,priority:2" json:"amount"`
	Datetime    *time.Time          `gorm:"index:idx_txn_triple,priority:3" json:"datetime"`
	Flags       []TransactionFlag   `gorm:"foreignKey:TransactionId;constraint:OnDelete:CASCADE" json:"flags,omitempty"`
	CreatedAt   time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t Transaction) GetId() int {
	return t.ID
}

// GetTransactionById loads a transaction with its flags.
func GetTransactionById(ctx context.Context, db *gorm.DB, id int) (*Transaction, error) {
	var txn Transaction
	err := db.WithContext(ctx).Preload("Flags").First(&txn, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// TransactionListQuery holds the optional filters and ordering for the list
// endpoint. Zero values mean "not set".
type TransactionListQuery struct {
	Description string           // case-insensitive substring match
	Category    string           // exact match
	AmountGt    *decimal.Decimal // strictly greater than
	Ordering    string           // datetime, amount, flag_count or created_at, "-" prefix for descending
	Limit       int
	Offset      int
}

// flagCountSelect annotates each row with the number of flags pointing at it,
// so the list can be ordered by it.
const flagCountSelect = "transactions.*, " +
	"(SELECT count(*) FROM transaction_flags WHERE transaction_flags.transaction_id = transactions.id) AS flag_count"

func (q TransactionListQuery) orderClause() string {
	desc := false
	field := q.Ordering
	if len(field) > 0 && field[0] == '-' {
		desc = true
		field = field[1:]
	}
	switch field {
	case "datetime", "amount", "created_at", "flag_count":
	default:
		// Unrecognized ordering falls back to newest first, like an unset one.
		return "created_at desc"
	}
	if desc {
		return field + " desc"
	}
	return field
}

// ListTransactions returns a page of transactions with flags preloaded,
// filtered and ordered per the query. Default order is newest first.
func ListTransactions(ctx context.Context, db *gorm.DB, q TransactionListQuery) ([]Transaction, int64, error) {
	filtered := db.WithContext(ctx).Model(&Transaction{})
	if q.Description != "" {
		filtered = filtered.Where("LOWER(description) LIKE ? ESCAPE '\\'",
			"%"+utils.EscapeLike(strings.ToLower(q.Description))+"%")
	}
	if q.Category != "" {
		filtered = filtered.Where("category = ?", q.Category)
	}
	if q.AmountGt != nil {
		filtered = filtered.Where("amount > ?", *q.AmountGt)
	}

	var total int64
	if err := filtered.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filtered.Session(&gorm.Session{}).Preload("Flags")
	order := q.orderClause()
	if strings.HasPrefix(order, "flag_count") {
		page = page.Select(flagCountSelect)
	}
	var txns []Transaction
	err := page.
		Order(order).
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// Delete removes the transaction, its own flags and any flags on other
// transactions whose duplicate reference points at it.
func (t Transaction) Delete(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("transaction_id = ? OR duplicates_transaction_id = ?", t.ID, t.ID).
			Delete(&TransactionFlag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Transaction{}, t.ID).Error
	})
}
