package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"gorm.io/gorm"
)

const bulkInsertBatchSize = 1000

// CreateTransactionsWithFlagsBulk ingests a batch of raw records end to end:
// clean, insert, rules, validation flags, duplicate detection. Empty records
// (no amount, description or category) are dropped silently; callers can diff
// input length against the returned slice to report skips. Any error aborts
// the whole batch.
//
// Rule application and category rewrites are pushed down to the database, so
// per-row cost stays flat as batches grow.
func CreateTransactionsWithFlagsBulk(ctx context.Context, db *gorm.DB, engine *RuleEngine, raws []RawRecord) ([]models.Transaction, map[int][]models.TransactionFlag, error) {
	type cleanedRow struct {
		rec CanonicalRecord
		raw RawRecord
	}

	var rows []cleanedRow
	for _, raw := range raws {
		rec, err := CleanAndValidate(raw)
		if err != nil {
			if errors.Is(err, ErrEmptyRecord) {
				continue
			}
			return nil, nil, err
		}
		rows = append(rows, cleanedRow{rec: rec, raw: raw})
	}
	if len(rows) == 0 {
		return nil, map[int][]models.TransactionFlag{}, nil
	}

	txns := make([]models.Transaction, len(rows))
	for i, row := range rows {
		txns[i] = models.Transaction{
			Description: row.rec.Description,
			Category:    row.rec.Category,
			Amount:      row.rec.Amount,
			Datetime:    row.rec.Datetime,
		}
	}
	if err := db.WithContext(ctx).CreateInBatches(&txns, bulkInsertBatchSize).Error; err != nil {
		return nil, nil, err
	}

	ids := make([]int, len(txns))
	rawById := make(map[int]RawRecord, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
		rawById[t.ID] = rows[i].raw
	}

	if err := engine.ApplyRulesBulk(ctx, db, ids); err != nil {
		return nil, nil, err
	}

	// Re-fetch so validation sees rule-assigned categories.
	var refreshed []models.Transaction
	if err := db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&refreshed).Error; err != nil {
		return nil, nil, err
	}

	// Best-effort lock so concurrent uploads don't interleave their duplicate
	// scans; losing the lock only risks redundant flag inserts, which the
	// natural-key constraint absorbs.
	if locker := config.GetRedisLock(); locker != nil {
		if lock, lockErr := locker.Obtain(ctx, "bulk-transaction-flags", time.Minute, nil); lockErr == nil {
			defer lock.Release(context.Background())
		} else {
			config.LogWarn(config.GetLogger(), "bulkUploadWorkflow.go", "CreateTransactionsWithFlagsBulk",
				"Obtain redis lock", "proceeding without redis lock: "+lockErr.Error())
		}
	}

	flagMap := map[int][]models.TransactionFlag{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var validationFlags []models.TransactionFlag
		for _, t := range refreshed {
			for _, p := range ValidationFlags(canonicalFromTransaction(t), rawById[t.ID]) {
				validationFlags = append(validationFlags, p.toFlag(t.ID))
			}
		}
		if err := models.InsertFlagsIgnoreConflicts(ctx, tx, validationFlags); err != nil {
			return err
		}

		if _, err := CheckDuplicatesBulk(ctx, tx, refreshed, true); err != nil {
			return err
		}

		var err error
		flagMap, err = models.GetFlagsForTransactions(ctx, tx, ids)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return refreshed, flagMap, nil
}
