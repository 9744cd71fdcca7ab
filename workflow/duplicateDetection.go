package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"gorm.io/gorm"
)

// Two persisted transactions are duplicates when they share an identical
// (description, amount, datetime) triple and the amount is present.
// Absent-amount transactions are never duplicates of anything, and neither
// are transactions without a datetime (an unparseable input), since NULL
// never equals NULL in the store either.

type dupPair struct {
	transactionId int
	duplicateId   int
}

type dupGroupRow struct {
	Description string
	Amount      string
	Datetime    time.Time
	Cnt         int
}

type dupProjection struct {
	ID          int
	Description string
	Amount      string
	Datetime    time.Time
}

func (p dupProjection) tripleKey() string {
	return tripleKey(p.Description, p.Amount, p.Datetime)
}

// Amounts come back as their driver representation; normalizing through
// decimal would re-parse every row, so the raw column text joins the key
// directly; every member of a SQL group shares it byte for byte anyway.
func tripleKey(description, amount string, datetime time.Time) string {
	return description + "\x00" + amount + "\x00" + datetime.UTC().Format(time.RFC3339Nano)
}

// CheckDuplicatesBulk finds every duplicate relationship the given batch
// participates in and reconciles the stored DUPLICATE flags: one flag per
// ordered pair, message referencing the other transaction, resolution state
// carried over when preserveResolution is set. Groups are computed by the
// store (group-by with count over the batch's triples), so cost scales with
// the batch and its collisions, not the table. Returns the batch's current
// DUPLICATE flags keyed by transaction id.
func CheckDuplicatesBulk(ctx context.Context, db *gorm.DB, txns []models.Transaction, preserveResolution bool) (map[int][]models.TransactionFlag, error) {
	result := make(map[int][]models.TransactionFlag)
	if len(txns) == 0 {
		return result, nil
	}

	batchIds := models.CollectIds(txns)
	inBatch := make(map[int]bool, len(txns))
	for _, t := range txns {
		inBatch[t.ID] = true
	}

	// Stage 1: restrict to the triples appearing in the batch.
	tripleWhere, tripleArgs := tripleFilter(txns)
	if tripleWhere == "" {
		return result, nil
	}

	// Stage 2: ask the store which of those triples occur more than once. The
	// result may include transactions outside the batch that happen to collide.
	var groups []dupGroupRow
	if err := db.WithContext(ctx).Model(&models.Transaction{}).
		Select("description, amount, datetime, count(*) as cnt").
		Where(tripleWhere, tripleArgs...).
		Group("description, amount, datetime").
		Having("count(*) > 1").
		Scan(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return result, nil
	}

	// Stage 3: minimal projection of every transaction in a qualifying group.
	groupWhere, groupArgs := groupFilter(groups)
	var rows []dupProjection
	if err := db.WithContext(ctx).Model(&models.Transaction{}).
		Select("id, description, amount, datetime").
		Where(groupWhere, groupArgs...).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	// Stage 4: partition by exact triple equality, discard singletons.
	byTriple := make(map[string][]dupProjection)
	for _, row := range rows {
		k := row.tripleKey()
		byTriple[k] = append(byTriple[k], row)
	}

	// Stage 5: ordered pairs (A, B), A != B, with at least one endpoint in the
	// batch. Pairs entirely outside the batch are already flagged and cannot
	// have been invalidated by this batch, so they are skipped.
	var pairs []dupPair
	for _, group := range byTriple {
		if len(group) < 2 {
			continue
		}
		for _, a := range group {
			for _, b := range group {
				if a.ID == b.ID {
					continue
				}
				if !inBatch[a.ID] && !inBatch[b.ID] {
					continue
				}
				pairs = append(pairs, dupPair{transactionId: a.ID, duplicateId: b.ID})
			}
		}
	}
	if len(pairs) == 0 {
		return result, nil
	}

	// Stage 6: carry over resolution state and upsert on the natural key.
	resolved := make(map[dupPair]bool)
	if preserveResolution {
		var existing []models.TransactionFlag
		if err := db.WithContext(ctx).
			Where("transaction_id IN ? AND flag_type = ?", batchIds, models.FlagTypeDuplicate).
			Find(&existing).Error; err != nil {
			return nil, err
		}
		for _, f := range existing {
			if f.DuplicatesTransactionId != nil {
				resolved[dupPair{f.TransactionId, *f.DuplicatesTransactionId}] = f.IsResolved
			}
		}
	}

	newFlags := make([]models.TransactionFlag, 0, len(pairs))
	for _, p := range pairs {
		dupId := p.duplicateId
		newFlags = append(newFlags, models.TransactionFlag{
			TransactionId:           p.transactionId,
			DuplicatesTransactionId: &dupId,
			FlagType:                models.FlagTypeDuplicate,
			Message:                 fmt.Sprintf("Possible duplicate of transaction %d", p.duplicateId),
			IsResolvable:            models.FlagTypeDuplicate.Resolvable(),
			IsResolved:              resolved[p],
		})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !preserveResolution {
			if err := tx.Where("transaction_id IN ? AND flag_type = ?", batchIds, models.FlagTypeDuplicate).
				Delete(&models.TransactionFlag{}).Error; err != nil {
				return err
			}
		}
		return models.InsertFlagsIgnoreConflicts(ctx, tx, newFlags)
	})
	if err != nil {
		return nil, err
	}

	var current []models.TransactionFlag
	if err := db.WithContext(ctx).
		Where("transaction_id IN ? AND flag_type = ?", batchIds, models.FlagTypeDuplicate).
		Order("id").
		Find(&current).Error; err != nil {
		return nil, err
	}
	for _, f := range current {
		result[f.TransactionId] = append(result[f.TransactionId], f)
	}
	return result, nil
}

// tripleFilter builds the OR-of-triples predicate for the batch members that
// can participate in duplicates at all.
func tripleFilter(txns []models.Transaction) (string, []any) {
	var exprs []string
	var args []any
	seen := make(map[string]bool)
	for _, t := range txns {
		if !t.Amount.Valid || t.Datetime == nil {
			continue
		}
		k := tripleKey(t.Description, t.Amount.Decimal.String(), *t.Datetime)
		if seen[k] {
			continue
		}
		seen[k] = true
		exprs = append(exprs, "(description = ? AND amount = ? AND datetime = ?)")
		args = append(args, t.Description, t.Amount.Decimal, *t.Datetime)
	}
	return strings.Join(exprs, " OR "), args
}

func groupFilter(groups []dupGroupRow) (string, []any) {
	var exprs []string
	var args []any
	for _, g := range groups {
		exprs = append(exprs, "(description = ? AND amount = ? AND datetime = ?)")
		args = append(args, g.Description, g.Amount, g.Datetime)
	}
	return strings.Join(exprs, " OR "), args
}
