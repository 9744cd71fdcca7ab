package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newListTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedListTransaction(t *testing.T, db *gorm.DB, description, category, amount string, datetime time.Time) Transaction {
	t.Helper()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("decimal %q: %v", amount, err)
	}
	txn := Transaction{
		Description: description,
		Category:    category,
		Amount:      decimal.NullDecimal{Decimal: d, Valid: true},
		Datetime:    &datetime,
	}
	if err := db.Create(&txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func listIds(txns []Transaction) []int {
	ids := make([]int, 0, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
	}
	return ids
}

func TestListTransactionsFilters(t *testing.T) {
	db := newListTestDB(t)
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	middle := seedListTransaction(t, db, "The MIDDLE one", "Misc", "100", day)
	big := seedListTransaction(t, db, "Big spend", "Misc", "200", day.AddDate(0, 0, 1))
	seedListTransaction(t, db, "Coffee", "Dining", "5", day.AddDate(0, 0, 2))

	txns, total, err := ListTransactions(context.Background(), db, TransactionListQuery{
		Description: "middle", Limit: 10,
	})
	if err != nil || total != 1 || len(txns) != 1 || txns[0].ID != middle.ID {
		t.Fatalf("description filter: ids %v total %d err %v", listIds(txns), total, err)
	}

	gt := decimal.NewFromInt(150)
	txns, total, err = ListTransactions(context.Background(), db, TransactionListQuery{
		AmountGt: &gt, Limit: 10,
	})
	if err != nil || total != 1 || len(txns) != 1 || txns[0].ID != big.ID {
		t.Fatalf("amount__gt filter: ids %v total %d err %v", listIds(txns), total, err)
	}

	txns, total, err = ListTransactions(context.Background(), db, TransactionListQuery{
		Category: "Misc", Ordering: "-amount", Limit: 10,
	})
	if err != nil || total != 2 || len(txns) != 2 {
		t.Fatalf("category filter: ids %v total %d err %v", listIds(txns), total, err)
	}
	if txns[0].ID != big.ID || txns[1].ID != middle.ID {
		t.Fatalf("category + -amount ordering: got %v", listIds(txns))
	}
}

func TestListTransactionsOrdering(t *testing.T) {
	db := newListTestDB(t)
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	oldest := seedListTransaction(t, db, "oldest", "", "30", day)
	newest := seedListTransaction(t, db, "newest", "", "10", day.AddDate(0, 0, 2))
	mid := seedListTransaction(t, db, "mid", "", "20", day.AddDate(0, 0, 1))

	txns, _, err := ListTransactions(context.Background(), db, TransactionListQuery{
		Ordering: "-datetime", Limit: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listIds(txns); got[0] != newest.ID || got[1] != mid.ID || got[2] != oldest.ID {
		t.Fatalf("-datetime ordering: got %v", got)
	}

	txns, _, err = ListTransactions(context.Background(), db, TransactionListQuery{
		Ordering: "amount", Limit: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listIds(txns); got[0] != newest.ID || got[2] != oldest.ID {
		t.Fatalf("amount ordering: got %v", got)
	}

	// Unknown ordering falls back to newest first.
	txns, _, err = ListTransactions(context.Background(), db, TransactionListQuery{
		Ordering: "id; drop table transactions", Limit: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listIds(txns); got[0] != mid.ID {
		t.Fatalf("fallback ordering: got %v", got)
	}
}

func TestListTransactionsOrderByFlagCount(t *testing.T) {
	db := newListTestDB(t)
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	none := seedListTransaction(t, db, "clean", "", "10", day)
	one := seedListTransaction(t, db, "one flag", "", "20", day)
	two := seedListTransaction(t, db, "two flags", "", "30", day)

	flags := []TransactionFlag{
		{TransactionId: one.ID, FlagType: FlagTypeRuleMatch, Message: "a", IsResolvable: true},
		{TransactionId: two.ID, FlagType: FlagTypeRuleMatch, Message: "a", IsResolvable: true},
		{TransactionId: two.ID, FlagType: FlagTypeMissingData, Message: "b", IsResolvable: true},
	}
	if err := db.Create(&flags).Error; err != nil {
		t.Fatalf("seed flags: %v", err)
	}

	txns, _, err := ListTransactions(context.Background(), db, TransactionListQuery{
		Ordering: "-flag_count", Limit: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listIds(txns); got[0] != two.ID || got[1] != one.ID || got[2] != none.ID {
		t.Fatalf("-flag_count ordering: got %v", got)
	}

	txns, _, err = ListTransactions(context.Background(), db, TransactionListQuery{
		Ordering: "flag_count", Limit: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listIds(txns); got[0] != none.ID || got[2] != two.ID {
		t.Fatalf("flag_count ordering: got %v", got)
	}
	if len(txns[2].Flags) != 2 {
		t.Fatalf("flags not preloaded: %d", len(txns[2].Flags))
	}
}
