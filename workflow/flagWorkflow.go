package workflow

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"gorm.io/gorm"
)

// ErrInvalidCustomFlag rejects a custom_flag payload without a message.
var ErrInvalidCustomFlag = errors.New("custom_flag requires a message")

// Flags are derived state: every update re-derives the system-generated set
// from scratch rather than patching it. Resolution status is the one piece of
// user-authored state layered on top, so resolved flags and CUSTOM flags
// survive re-derivation untouched.

// CreateTransactionWithFlags cleans the raw record, persists it, applies the
// active rules, writes validation/rule flags and runs duplicate detection.
// Returns the transaction and its full flag list.
func CreateTransactionWithFlags(ctx context.Context, db *gorm.DB, engine *RuleEngine, raw RawRecord) (*models.Transaction, []models.TransactionFlag, error) {
	rec, err := CleanAndValidate(raw)
	if err != nil {
		return nil, nil, err
	}

	txn := &models.Transaction{
		Description: rec.Description,
		Category:    rec.Category,
		Amount:      rec.Amount,
		Datetime:    rec.Datetime,
	}
	if err := db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, nil, err
	}

	if _, err := applyRulesAndWriteFlags(ctx, db, engine, txn, raw); err != nil {
		return nil, nil, err
	}

	if _, err := CheckDuplicatesBulk(ctx, db, []models.Transaction{*txn}, true); err != nil {
		return nil, nil, err
	}

	flags, err := transactionFlags(ctx, db, txn.ID)
	if err != nil {
		return nil, nil, err
	}
	return txn, flags, nil
}

// UpdateTransactionWithFlags merges raw over the transaction's current values
// (provided keys replace, omitted keys carry forward, so one code path serves
// both full and partial updates), re-cleans, clears stale system flags,
// re-derives everything and upserts any caller-supplied custom flag. Returns
// the flags generated or refreshed by this call, not a full dump.
func UpdateTransactionWithFlags(ctx context.Context, db *gorm.DB, engine *RuleEngine, txn *models.Transaction, raw RawRecord) (*models.Transaction, []models.TransactionFlag, error) {
	merged, customFlag := mergeRawOverTransaction(txn, raw)
	rec, err := CleanAndValidate(merged)
	if err != nil {
		return nil, nil, err
	}

	// Validate the custom flag payload up front. Rejecting it after the stale
	// flags are cleared would leave the update half-applied.
	var custom *customFlagPayload
	if customFlag != nil {
		payload, err := parseCustomFlag(customFlag)
		if err != nil {
			return nil, nil, err
		}
		custom = &payload
	}

	// Clear stale derived state: this transaction's unresolved system flags,
	// and unresolved DUPLICATE flags on other transactions that reference this
	// one, since its new data may no longer make them duplicates.
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(
			"transaction_id = ? AND is_resolved = ? AND flag_type IN ?",
			txn.ID, false, systemFlagTypes(),
		).Delete(&models.TransactionFlag{}).Error; err != nil {
			return err
		}
		return tx.Where(
			"duplicates_transaction_id = ? AND flag_type = ? AND is_resolved = ?",
			txn.ID, models.FlagTypeDuplicate, false,
		).Delete(&models.TransactionFlag{}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	updates := map[string]any{
		"description": rec.Description,
		"category":    rec.Category,
		"amount":      rec.Amount,
		"datetime":    rec.Datetime,
	}
	if err := db.WithContext(ctx).Model(txn).Updates(updates).Error; err != nil {
		return nil, nil, err
	}
	txn.Description = rec.Description
	txn.Category = rec.Category
	txn.Amount = rec.Amount
	txn.Datetime = rec.Datetime

	written, err := applyRulesAndWriteFlags(ctx, db, engine, txn, merged)
	if err != nil {
		return nil, nil, err
	}

	if _, err := CheckDuplicatesBulk(ctx, db, []models.Transaction{*txn}, true); err != nil {
		return nil, nil, err
	}

	if custom != nil {
		flag := custom.toFlag(txn.ID)
		flag.IsResolvable = custom.isResolvable
		if err := models.InsertFlagsIgnoreConflicts(ctx, db, []models.TransactionFlag{flag}); err != nil {
			return nil, nil, err
		}
		written = append(written, FlagPayload{FlagType: flag.FlagType, Message: flag.Message})
	}

	flags, err := refreshedFlags(ctx, db, txn.ID, written)
	if err != nil {
		return nil, nil, err
	}
	return txn, flags, nil
}

func systemFlagTypes() []models.FlagType {
	return []models.FlagType{
		models.FlagTypeParseError,
		models.FlagTypeMissingData,
		models.FlagTypeRuleMatch,
		models.FlagTypeDuplicate,
	}
}

// applyRulesAndWriteFlags runs the shared middle of create and update:
// rule application, category persistence, post-rule validation recompute and
// the idempotent flag insert. Returns the payloads written.
func applyRulesAndWriteFlags(ctx context.Context, db *gorm.DB, engine *RuleEngine, txn *models.Transaction, raw RawRecord) ([]FlagPayload, error) {
	rec := canonicalFromTransaction(*txn)
	recAfter, rulePayloads, err := engine.ApplyRules(ctx, rec)
	if err != nil {
		return nil, err
	}
	if recAfter.Category != txn.Category {
		if err := db.WithContext(ctx).Model(txn).Update("category", recAfter.Category).Error; err != nil {
			return nil, err
		}
		txn.Category = recAfter.Category
	}

	// Validation runs against the post-rule record so a rule-supplied category
	// suppresses the "Missing category" flag.
	payloads := append(ValidationFlags(recAfter, raw), rulePayloads...)
	flags := make([]models.TransactionFlag, 0, len(payloads))
	for _, p := range payloads {
		flags = append(flags, p.toFlag(txn.ID))
	}
	if err := models.InsertFlagsIgnoreConflicts(ctx, db, flags); err != nil {
		return nil, err
	}
	return payloads, nil
}

func canonicalFromTransaction(t models.Transaction) CanonicalRecord {
	return CanonicalRecord{
		Description: t.Description,
		Category:    t.Category,
		Amount:      t.Amount,
		Datetime:    t.Datetime,
	}
}

// mergeRawOverTransaction lays the provided keys over the transaction's
// current values and pulls the custom_flag payload out before cleaning.
func mergeRawOverTransaction(txn *models.Transaction, raw RawRecord) (RawRecord, map[string]any) {
	merged := RawRecord{
		"description": txn.Description,
		"category":    txn.Category,
	}
	if txn.Amount.Valid {
		merged["amount"] = txn.Amount.Decimal.String()
	}
	if txn.Datetime != nil {
		merged["datetime"] = *txn.Datetime
	}

	var custom map[string]any
	for key, value := range raw {
		if key == "custom_flag" {
			if m, ok := value.(map[string]any); ok {
				custom = m
			}
			continue
		}
		merged[key] = value
	}
	return merged, custom
}

type customFlagPayload struct {
	FlagPayload
	isResolvable bool
}

func parseCustomFlag(payload map[string]any) (customFlagPayload, error) {
	raw := RawRecord(payload)
	message := strings.TrimSpace(raw.stringValue("message"))
	if message == "" {
		return customFlagPayload{}, ErrInvalidCustomFlag
	}

	flagType := models.FlagTypeCustom
	if s := strings.TrimSpace(raw.stringValue("flag_type")); s != "" {
		parsed, err := models.ParseFlagType(s)
		if err != nil {
			return customFlagPayload{}, err
		}
		flagType = parsed
	}

	resolvable := true
	if v, ok := payload["is_resolvable"].(bool); ok {
		resolvable = v
	}

	return customFlagPayload{
		FlagPayload:  FlagPayload{FlagType: flagType, Message: message},
		isResolvable: resolvable,
	}, nil
}

func transactionFlags(ctx context.Context, db *gorm.DB, transactionId int) ([]models.TransactionFlag, error) {
	var flags []models.TransactionFlag
	err := db.WithContext(ctx).
		Where("transaction_id = ?", transactionId).
		Order("id").
		Find(&flags).Error
	return flags, err
}

// refreshedFlags narrows the transaction's stored flags down to the ones this
// call wrote (by natural key) plus its current DUPLICATE flags.
func refreshedFlags(ctx context.Context, db *gorm.DB, transactionId int, written []FlagPayload) ([]models.TransactionFlag, error) {
	all, err := transactionFlags(ctx, db, transactionId)
	if err != nil {
		return nil, err
	}
	writtenKeys := make(map[FlagPayload]bool, len(written))
	for _, p := range written {
		writtenKeys[FlagPayload{FlagType: p.FlagType, Message: p.Message}] = true
	}
	var out []models.TransactionFlag
	for _, f := range all {
		if f.FlagType == models.FlagTypeDuplicate || writtenKeys[FlagPayload{FlagType: f.FlagType, Message: f.Message}] {
			out = append(out, f)
		}
	}
	return out, nil
}
