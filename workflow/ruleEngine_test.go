package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
)

func TestApplyRulesFirstMatchWins(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"description__icontains": "grocery"}, "Groceries", "")
	seedRule(t, db, models.FilterCondition{"description__icontains": "store"}, "Shopping", "")
	engine := newTestEngine(db)

	rec := CanonicalRecord{Description: "GROCERY STORE #42", Amount: mustDecimal(t, "50")}
	got, payloads, err := engine.ApplyRules(context.Background(), rec)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if got.Category != "Groceries" {
		t.Fatalf("category: got %q", got.Category)
	}
	if len(payloads) != 0 {
		t.Fatalf("unexpected payloads: %+v", payloads)
	}
}

func TestApplyRulesNeverOverridesUserCategory(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"description__icontains": "grocery"}, "Groceries", "")
	engine := newTestEngine(db)

	rec := CanonicalRecord{Description: "grocery run", Category: "Food"}
	got, _, err := engine.ApplyRules(context.Background(), rec)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if got.Category != "Food" {
		t.Fatalf("user category overridden: %q", got.Category)
	}
}

func TestApplyRulesFlagMessage(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"amount__gt": 1000}, "", "High value transaction (>$1,000)")
	engine := newTestEngine(db)

	rec := CanonicalRecord{Description: "Laptop", Category: "Tech", Amount: mustDecimal(t, "1500.00")}
	_, payloads, err := engine.ApplyRules(context.Background(), rec)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if len(payloads) != 1 || payloads[0].FlagType != models.FlagTypeRuleMatch {
		t.Fatalf("got payloads %+v", payloads)
	}
	if payloads[0].Message != "High value transaction (>$1,000)" {
		t.Fatalf("got message %q", payloads[0].Message)
	}

	// Boundary: exactly 1000 is not greater than 1000.
	_, payloads, err = engine.ApplyRules(context.Background(), CanonicalRecord{Description: "x", Amount: mustDecimal(t, "1000")})
	if err != nil || len(payloads) != 0 {
		t.Fatalf("boundary: payloads %+v err %v", payloads, err)
	}
}

func TestApplyRulesAbsentFieldFailsClosed(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"amount__lt": 0}, "Income", "")
	engine := newTestEngine(db)

	// No amount at all: the rule must not match.
	got, _, err := engine.ApplyRules(context.Background(), CanonicalRecord{Description: "mystery"})
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if got.Category != "" {
		t.Fatalf("rule matched absent amount: %q", got.Category)
	}
}

func TestApplyRulesUnknownOperatorFailsClosed(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"description__regex": ".*"}, "Everything", "")
	engine := newTestEngine(db)

	got, _, err := engine.ApplyRules(context.Background(), CanonicalRecord{Description: "anything"})
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if got.Category != "" {
		t.Fatalf("unknown operator must never match, got %q", got.Category)
	}
}

func TestInvalidateRefreshesRules(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(db)

	rec := CanonicalRecord{Description: "grocery run"}
	if got, _, _ := engine.ApplyRules(context.Background(), rec); got.Category != "" {
		t.Fatalf("no rules yet, got category %q", got.Category)
	}

	seedRule(t, db, models.FilterCondition{"description__icontains": "grocery"}, "Groceries", "")

	// Cache still warm: the new rule is invisible.
	if got, _, _ := engine.ApplyRules(context.Background(), rec); got.Category != "" {
		t.Fatalf("cached rules should not see the new rule yet, got %q", got.Category)
	}

	engine.Invalidate()
	got, _, err := engine.ApplyRules(context.Background(), rec)
	if err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	if got.Category != "Groceries" {
		t.Fatalf("after invalidate: got %q", got.Category)
	}
}

func TestApplyRulesBulk(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"description__icontains": "grocery"}, "Groceries", "")
	seedRule(t, db, models.FilterCondition{"amount__gt": 1000}, "", "High value transaction (>$1,000)")
	engine := newTestEngine(db)

	a := seedTransaction(t, db, "GROCERY OUTLET", "", "20", utcDate(2023, 1, 1))
	b := seedTransaction(t, db, "Grocery run", "Food", "30", utcDate(2023, 1, 2))
	c := seedTransaction(t, db, "New laptop", "", "1500", utcDate(2023, 1, 3))
	d := seedTransaction(t, db, "Rent", "", "900", utcDate(2023, 1, 4))

	if err := engine.ApplyRulesBulk(context.Background(), db, []int{a.ID, b.ID, c.ID, d.ID}); err != nil {
		t.Fatalf("ApplyRulesBulk: %v", err)
	}

	var got models.Transaction
	if err := db.First(&got, a.ID).Error; err != nil || got.Category != "Groceries" {
		t.Fatalf("a: category %q err %v", got.Category, err)
	}
	got = models.Transaction{}
	if err := db.First(&got, b.ID).Error; err != nil || got.Category != "Food" {
		t.Fatalf("b: user category must survive, got %q err %v", got.Category, err)
	}
	got = models.Transaction{}
	if err := db.First(&got, d.ID).Error; err != nil || got.Category != "" {
		t.Fatalf("d: category %q err %v", got.Category, err)
	}

	if !hasFlag(flagsOf(t, db, c.ID), models.FlagTypeRuleMatch, "High value transaction (>$1,000)") {
		t.Fatalf("c: missing RULE_MATCH flag")
	}
	if len(flagsOf(t, db, d.ID)) != 0 {
		t.Fatalf("d: unexpected flags")
	}

	// Re-running is idempotent on the natural key.
	if err := engine.ApplyRulesBulk(context.Background(), db, []int{a.ID, b.ID, c.ID, d.ID}); err != nil {
		t.Fatalf("second ApplyRulesBulk: %v", err)
	}
	if n := countFlags(flagsOf(t, db, c.ID), models.FlagTypeRuleMatch); n != 1 {
		t.Fatalf("c: got %d RULE_MATCH flags", n)
	}
}

func TestApplyRulesBulkFlagWhenRuleRewritesMatchedField(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"category__exact": ""}, "Misc", "Uncategorized")
	engine := newTestEngine(db)

	txn := seedTransaction(t, db, "Mystery charge", "", "42", utcDate(2023, 5, 1))

	if err := engine.ApplyRulesBulk(context.Background(), db, []int{txn.ID}); err != nil {
		t.Fatalf("ApplyRulesBulk: %v", err)
	}

	var got models.Transaction
	if err := db.First(&got, txn.ID).Error; err != nil || got.Category != "Misc" {
		t.Fatalf("category %q err %v", got.Category, err)
	}
	// The category rewrite must not hide the match from the flag action.
	if !hasFlag(flagsOf(t, db, txn.ID), models.FlagTypeRuleMatch, "Uncategorized") {
		t.Fatalf("missing RULE_MATCH flag after category rewrite")
	}
}

func TestApplyRulesBulkEscapesLikePattern(t *testing.T) {
	db := newTestDB(t)
	seedRule(t, db, models.FilterCondition{"description__contains": "100%"}, "Promo", "")
	engine := newTestEngine(db)

	match := seedTransaction(t, db, "100% cotton shirt", "", "25", utcDate(2023, 2, 1))
	noise := seedTransaction(t, db, "100 percent other", "", "25", utcDate(2023, 2, 2))

	if err := engine.ApplyRulesBulk(context.Background(), db, []int{match.ID, noise.ID}); err != nil {
		t.Fatalf("ApplyRulesBulk: %v", err)
	}

	var got models.Transaction
	if err := db.First(&got, match.ID).Error; err != nil || got.Category != "Promo" {
		t.Fatalf("literal %%: category %q err %v", got.Category, err)
	}
	got = models.Transaction{}
	if err := db.First(&got, noise.ID).Error; err != nil || got.Category != "" {
		t.Fatalf("wildcard leak: category %q err %v", got.Category, err)
	}
}
