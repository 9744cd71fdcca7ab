package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// FilterCondition maps `field[__operator]` keys to comparison values, e.g.
// {"description__icontains": "coffee", "amount__gt": 100}. Stored as JSON.
type FilterCondition map[string]any

func (fc FilterCondition) Value() (driver.Value, error) {
	if fc == nil {
		return nil, nil
	}
	return json.Marshal(fc)
}

func (fc *FilterCondition) Scan(value any) error {
	if value == nil {
		*fc = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FilterCondition", value)
	}
	return json.Unmarshal(raw, fc)
}

// TransactionRule is a stored filter+action pair: transactions matching every
// condition get the category assigned (if still uncategorized) and/or a
// RULE_MATCH flag with FlagMessage.
type TransactionRule struct {
	ID              int             `gorm:"primary_key" json:"id"`
	FilterCondition FilterCondition `gorm:"type:json" json:"filter_condition" binding:"required"`
	Category        string          `gorm:"size:255" json:"category"`
	FlagMessage     string          `gorm:"size:500" json:"flag_message"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r TransactionRule) GetId() int {
	return r.ID
}

// Validate enforces the rule invariant: at least one filter key and at least
// one action.
func (r TransactionRule) Validate() error {
	if len(r.FilterCondition) == 0 {
		return errors.New("filter_condition must contain at least one condition")
	}
	for key := range r.FilterCondition {
		if strings.TrimSpace(key) == "" {
			return errors.New("filter_condition keys must be non-empty")
		}
	}
	if strings.TrimSpace(r.Category) == "" && strings.TrimSpace(r.FlagMessage) == "" {
		return errors.New("rule must set at least one of category or flag_message")
	}
	return nil
}

// GetActiveRules returns every rule in insertion order. Rule evaluation relies
// on this ordering: the first rule to set a category wins.
func GetActiveRules(ctx context.Context, db *gorm.DB) ([]TransactionRule, error) {
	var rules []TransactionRule
	if err := db.WithContext(ctx).Order("id").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}
