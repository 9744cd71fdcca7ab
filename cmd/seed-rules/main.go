// seed-rules installs the default categorization rule set. Seeding is
// idempotent: a rule whose filter and actions already exist is skipped.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-rules
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/models"
)

func defaultRules() []models.TransactionRule {
	return []models.TransactionRule{
		{
			FilterCondition: models.FilterCondition{"description__icontains": "grocery"},
			Category:        "Groceries",
		},
		{
			FilterCondition: models.FilterCondition{"description__icontains": "restaurant"},
			Category:        "Dining",
		},
		{
			FilterCondition: models.FilterCondition{"description__icontains": "gas"},
			Category:        "Transportation",
		},
		{
			FilterCondition: models.FilterCondition{"amount__gt": 1000},
			FlagMessage:     "High value transaction (>$1,000)",
		},
		{
			FilterCondition: models.FilterCondition{"amount__lt": 0},
			Category:        "Income",
		},
	}
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	existing, err := models.GetActiveRules(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load rules: %v\n", err)
		os.Exit(1)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[ruleKey(r)] = true
	}

	created := 0
	for _, rule := range defaultRules() {
		if seen[ruleKey(rule)] {
			continue
		}
		if err := db.WithContext(ctx).Create(&rule).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create rule %v: %v\n", rule.FilterCondition, err)
			os.Exit(1)
		}
		created++
	}
	fmt.Printf("Seeded %d rule(s), %d already present\n", created, len(defaultRules())-created)
}

func ruleKey(r models.TransactionRule) string {
	value, _ := r.FilterCondition.Value()
	raw, _ := value.([]byte)
	return fmt.Sprintf("%s|%s|%s", raw, r.Category, r.FlagMessage)
}
