package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const flagBatchSize = 1000

// TransactionFlag is a diagnostic attached to a transaction. The
// (transaction_id, flag_type, message) triple is the natural key: inserting
// the same diagnostic twice is a no-op, never a second row.
type TransactionFlag struct {
	ID                      int       `gorm:"primary_key" json:"id"`
	TransactionId           int       `gorm:"not null;uniqueIndex:uniq_flag_natural,priority:1" json:"transaction_id"`
	DuplicatesTransactionId *int      `gorm:"index" json:"duplicates_transaction,omitempty"`
	FlagType                FlagType  `gorm:"size:50;not null;uniqueIndex:uniq_flag_natural,priority:2" json:"flag_type"`
	Message                 string    `gorm:"size:500;not null;uniqueIndex:uniq_flag_natural,priority:3" json:"message"`
	IsResolvable            bool      `json:"is_resolvable"`
	IsResolved              bool      `json:"is_resolved"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f TransactionFlag) GetId() int {
	return f.ID
}

// InsertFlagsIgnoreConflicts batch-inserts flags, skipping rows that collide on
// the natural key. Existing rows (and their resolution state) are left intact.
func InsertFlagsIgnoreConflicts(ctx context.Context, db *gorm.DB, flags []TransactionFlag) error {
	if len(flags) == 0 {
		return nil
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&flags, flagBatchSize).Error
	if err != nil && utils.IsDuplicateKeyError(err) {
		// Raced with a concurrent writer on the natural key; the row exists,
		// which is all this insert guarantees.
		return nil
	}
	return err
}

// GetFlagsForTransactions loads all flags for the given transaction ids, keyed
// by owning transaction.
func GetFlagsForTransactions(ctx context.Context, db *gorm.DB, ids []int) (map[int][]TransactionFlag, error) {
	result := make(map[int][]TransactionFlag, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var flags []TransactionFlag
	if err := db.WithContext(ctx).
		Where("transaction_id IN ?", ids).
		Order("id").
		Find(&flags).Error; err != nil {
		return nil, err
	}
	for _, f := range flags {
		result[f.TransactionId] = append(result[f.TransactionId], f)
	}
	return result, nil
}
