package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database per test. The name keeps the
// shared-cache connection pool pointed at one database instead of one per
// pooled connection.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEngine(db *gorm.DB) *RuleEngine {
	return NewRuleEngine(db, time.Hour)
}

func seedRule(t *testing.T, db *gorm.DB, cond models.FilterCondition, category, flagMessage string) models.TransactionRule {
	t.Helper()
	rule := models.TransactionRule{
		FilterCondition: cond,
		Category:        category,
		FlagMessage:     flagMessage,
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return rule
}

func mustDecimal(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func seedTransaction(t *testing.T, db *gorm.DB, description, category, amount string, datetime *time.Time) models.Transaction {
	t.Helper()
	txn := models.Transaction{
		Description: description,
		Category:    category,
		Datetime:    datetime,
	}
	if amount != "" {
		txn.Amount = mustDecimal(t, amount)
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func flagsOf(t *testing.T, db *gorm.DB, transactionId int) []models.TransactionFlag {
	t.Helper()
	flags, err := transactionFlags(context.Background(), db, transactionId)
	if err != nil {
		t.Fatalf("load flags: %v", err)
	}
	return flags
}

func hasFlag(flags []models.TransactionFlag, flagType models.FlagType, message string) bool {
	for _, f := range flags {
		if f.FlagType == flagType && f.Message == message {
			return true
		}
	}
	return false
}

func countFlags(flags []models.TransactionFlag, flagType models.FlagType) int {
	n := 0
	for _, f := range flags {
		if f.FlagType == flagType {
			n++
		}
	}
	return n
}

func utcDate(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}
