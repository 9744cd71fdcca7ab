package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"bitbucket.org/mmdatafocus/transactions_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultRuleCacheTTL = 60 * time.Second
	ruleCacheRedisKey   = "TransactionRuleList"
)

type ruleOperator string

const (
	operatorExact     ruleOperator = "exact"
	operatorIContains ruleOperator = "icontains"
	operatorContains  ruleOperator = "contains"
	operatorGt        ruleOperator = "gt"
	operatorLt        ruleOperator = "lt"
	operatorGte       ruleOperator = "gte"
	operatorLte       ruleOperator = "lte"
)

// ruleCondition is one parsed `field[__operator]` entry. Conditions are parsed
// once at rule-load time, not per evaluation. Operator is kept verbatim even
// when unrecognized: evaluation fails closed on it.
type ruleCondition struct {
	Field    string
	Operator ruleOperator
	Value    any
}

type compiledRule struct {
	rule       models.TransactionRule
	conditions []ruleCondition
}

func parseConditionKey(key string) (field string, op ruleOperator) {
	if idx := strings.Index(key, "__"); idx >= 0 {
		return key[:idx], ruleOperator(key[idx+2:])
	}
	return key, operatorExact
}

func compileRules(rules []models.TransactionRule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{rule: r}
		for key, value := range r.FilterCondition {
			field, op := parseConditionKey(key)
			cr.conditions = append(cr.conditions, ruleCondition{Field: field, Operator: op, Value: value})
		}
		compiled = append(compiled, cr)
	}
	return compiled
}

// RuleEngine holds the active rule set behind a soft-TTL cache. One instance
// is constructed per process and passed to whatever mutates rules, so
// Invalidate is an explicit call, never an implicit hook. When Redis is
// configured the rule list is additionally cached there and the key is
// deleted on invalidation, so sibling processes converge before their own TTL
// expires; without Redis each process simply rides out its TTL.
type RuleEngine struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	rules    []compiledRule
	loadedAt time.Time
}

func NewRuleEngine(db *gorm.DB, ttl time.Duration) *RuleEngine {
	if ttl <= 0 {
		ttl = defaultRuleCacheTTL
	}
	return &RuleEngine{db: db, ttl: ttl, now: time.Now}
}

// Invalidate unconditionally clears both cache levels. Must be called after
// every rule create/update/delete.
func (e *RuleEngine) Invalidate() {
	e.mu.Lock()
	e.rules = nil
	e.loadedAt = time.Time{}
	e.mu.Unlock()
	if err := config.RemoveRedisKey(ruleCacheRedisKey); err != nil {
		config.LogError(config.GetLogger(), "ruleEngine.go", "Invalidate", "RemoveRedisKey", ruleCacheRedisKey, err)
	}
}

func (e *RuleEngine) activeRules(ctx context.Context) ([]compiledRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules != nil && e.now().Sub(e.loadedAt) < e.ttl {
		return e.rules, nil
	}

	var rules []models.TransactionRule
	hit, err := config.GetRedisObject(ruleCacheRedisKey, &rules)
	if err != nil {
		config.LogError(config.GetLogger(), "ruleEngine.go", "activeRules", "GetRedisObject", ruleCacheRedisKey, err)
		hit = false
	}
	if !hit {
		rules, err = models.GetActiveRules(ctx, e.db)
		if err != nil {
			return nil, err
		}
		if err := config.SetRedisObject(ruleCacheRedisKey, &rules, e.ttl); err != nil {
			config.LogError(config.GetLogger(), "ruleEngine.go", "activeRules", "SetRedisObject", ruleCacheRedisKey, err)
		}
	}

	e.rules = compileRules(rules)
	e.loadedAt = e.now()
	return e.rules, nil
}

// ApplyRules evaluates every active rule against the record, in insertion
// order. A matching rule sets the category only when the record has none yet
// (first match wins, user-set categories are never overridden) and emits a
// RULE_MATCH payload when it carries a flag message, unconditionally.
func (e *RuleEngine) ApplyRules(ctx context.Context, rec CanonicalRecord) (CanonicalRecord, []FlagPayload, error) {
	rules, err := e.activeRules(ctx)
	if err != nil {
		return rec, nil, err
	}
	var payloads []FlagPayload
	for _, cr := range rules {
		if !matchRule(cr.conditions, rec) {
			continue
		}
		if cr.rule.Category != "" && rec.Category == "" {
			rec.Category = cr.rule.Category
		}
		if cr.rule.FlagMessage != "" {
			payloads = append(payloads, FlagPayload{
				FlagType: models.FlagTypeRuleMatch,
				Message:  cr.rule.FlagMessage,
			})
		}
	}
	return rec, payloads, nil
}

// All conditions must match (AND semantics). Missing fields, unknown
// operators and coercion failures make the rule fail to match; they are never
// surfaced as errors.
func matchRule(conditions []ruleCondition, rec CanonicalRecord) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		if !evalCondition(cond, rec) {
			return false
		}
	}
	return true
}

func evalCondition(cond ruleCondition, rec CanonicalRecord) bool {
	switch cond.Field {
	case "description":
		return evalStringCondition(cond, rec.Description)
	case "category":
		return evalStringCondition(cond, rec.Category)
	case "amount":
		if !rec.Amount.Valid {
			return false
		}
		return evalDecimalCondition(cond, rec.Amount.Decimal)
	case "datetime":
		if rec.Datetime == nil {
			return false
		}
		return evalTimeCondition(cond, *rec.Datetime)
	}
	return false
}

func evalStringCondition(cond ruleCondition, fieldValue string) bool {
	want, ok := cond.Value.(string)
	if !ok {
		return false
	}
	switch cond.Operator {
	case operatorExact:
		return fieldValue == want
	case operatorContains:
		return strings.Contains(fieldValue, want)
	case operatorIContains:
		return strings.Contains(strings.ToLower(fieldValue), strings.ToLower(want))
	}
	return false
}

func evalDecimalCondition(cond ruleCondition, fieldValue decimal.Decimal) bool {
	want, ok := toDecimal(cond.Value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case operatorExact:
		return fieldValue.Equal(want)
	case operatorGt:
		return fieldValue.GreaterThan(want)
	case operatorGte:
		return fieldValue.GreaterThanOrEqual(want)
	case operatorLt:
		return fieldValue.LessThan(want)
	case operatorLte:
		return fieldValue.LessThanOrEqual(want)
	}
	return false
}

func evalTimeCondition(cond ruleCondition, fieldValue time.Time) bool {
	want, ok := toTime(cond.Value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case operatorExact:
		return fieldValue.Equal(want)
	case operatorGt:
		return fieldValue.After(want)
	case operatorGte:
		return !fieldValue.Before(want)
	case operatorLt:
		return fieldValue.Before(want)
	case operatorLte:
		return !fieldValue.After(want)
	}
	return false
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, false
		}
		t, payload := ParseDatetime(v)
		if payload != nil || t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

// ApplyRulesBulk applies every active rule across the given transaction ids
// with the filter pushed down to the store, one scan per rule instead of one
// evaluation per record. Category writes carry the same first-match-wins
// guarantee as the in-memory path because each UPDATE only touches rows whose
// category is still empty, and rules run in the same order.
func (e *RuleEngine) ApplyRulesBulk(ctx context.Context, db *gorm.DB, transactionIds []int) error {
	if len(transactionIds) == 0 {
		return nil
	}
	rules, err := e.activeRules(ctx)
	if err != nil {
		return err
	}
	for _, cr := range rules {
		clauses, ok := pushdownConditions(cr.conditions)
		if !ok {
			// Unknown field or operator: the rule matches nothing. Fail closed.
			continue
		}

		// Resolve the matched set once, before any write. A rule may condition
		// on the very field its category action rewrites; both actions must see
		// the match as it stood when the rule was evaluated, exactly like the
		// in-memory path.
		q := db.WithContext(ctx).Model(&models.Transaction{}).
			Where("id IN ?", transactionIds)
		for _, c := range clauses {
			q = q.Where(c.expr, c.args...)
		}
		var matched []int
		if err := q.Pluck("id", &matched).Error; err != nil {
			return err
		}
		if len(matched) == 0 {
			continue
		}

		if cr.rule.Category != "" {
			if err := db.WithContext(ctx).Model(&models.Transaction{}).
				Where("id IN ?", matched).
				Where("category = ''").
				Update("category", cr.rule.Category).Error; err != nil {
				return err
			}
		}

		if cr.rule.FlagMessage != "" {
			flags := make([]models.TransactionFlag, 0, len(matched))
			for _, id := range matched {
				flags = append(flags, models.TransactionFlag{
					TransactionId: id,
					FlagType:      models.FlagTypeRuleMatch,
					Message:       cr.rule.FlagMessage,
					IsResolvable:  models.FlagTypeRuleMatch.Resolvable(),
				})
			}
			if err := models.InsertFlagsIgnoreConflicts(ctx, db, flags); err != nil {
				return err
			}
		}
	}
	return nil
}

type whereClause struct {
	expr string
	args []any
}

// pushdownConditions translates parsed conditions into SQL fragments. Any
// condition that cannot be expressed (unknown field/operator, value of the
// wrong shape) makes the whole rule un-pushable, mirroring the fail-closed
// in-memory semantics.
func pushdownConditions(conditions []ruleCondition) ([]whereClause, bool) {
	if len(conditions) == 0 {
		return nil, false
	}
	clauses := make([]whereClause, 0, len(conditions))
	for _, cond := range conditions {
		c, ok := pushdownCondition(cond)
		if !ok {
			return nil, false
		}
		clauses = append(clauses, c)
	}
	return clauses, true
}

func pushdownCondition(cond ruleCondition) (whereClause, bool) {
	switch cond.Field {
	case "description", "category":
		want, ok := cond.Value.(string)
		if !ok {
			return whereClause{}, false
		}
		switch cond.Operator {
		case operatorExact:
			return whereClause{cond.Field + " = ?", []any{want}}, true
		case operatorContains:
			return whereClause{cond.Field + ` LIKE ? ESCAPE '\'`, []any{"%" + utils.EscapeLike(want) + "%"}}, true
		case operatorIContains:
			return whereClause{"LOWER(" + cond.Field + `) LIKE ? ESCAPE '\'`, []any{"%" + strings.ToLower(utils.EscapeLike(want)) + "%"}}, true
		}
		return whereClause{}, false
	case "amount":
		want, ok := toDecimal(cond.Value)
		if !ok {
			return whereClause{}, false
		}
		return comparisonClause(cond.Field, cond.Operator, want)
	case "datetime":
		want, ok := toTime(cond.Value)
		if !ok {
			return whereClause{}, false
		}
		return comparisonClause(cond.Field, cond.Operator, want)
	}
	return whereClause{}, false
}

func comparisonClause(field string, op ruleOperator, arg any) (whereClause, bool) {
	switch op {
	case operatorExact:
		return whereClause{field + " = ?", []any{arg}}, true
	case operatorGt:
		return whereClause{field + " > ?", []any{arg}}, true
	case operatorGte:
		return whereClause{field + " >= ?", []any{arg}}, true
	case operatorLt:
		return whereClause{field + " < ?", []any{arg}}, true
	case operatorLte:
		return whereClause{field + " <= ?", []any{arg}}, true
	}
	return whereClause{}, false
}
