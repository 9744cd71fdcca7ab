package models

import "testing"

func TestParseFlagType(t *testing.T) {
	for _, s := range []string{"PARSE_ERROR", "MISSING_DATA", "RULE_MATCH", "DUPLICATE", "CUSTOM"} {
		got, err := ParseFlagType(s)
		if err != nil || string(got) != s {
			t.Fatalf("%s: got %q err %v", s, got, err)
		}
	}
	if _, err := ParseFlagType("BOGUS"); err == nil {
		t.Fatalf("expected error for unknown flag type")
	}
}

func TestFlagTypeResolvable(t *testing.T) {
	if FlagTypeParseError.Resolvable() {
		t.Fatalf("PARSE_ERROR must not be resolvable")
	}
	for _, ft := range []FlagType{FlagTypeMissingData, FlagTypeRuleMatch, FlagTypeDuplicate, FlagTypeCustom} {
		if !ft.Resolvable() {
			t.Fatalf("%s should be resolvable", ft)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	ok := TransactionRule{
		FilterCondition: FilterCondition{"description__icontains": "coffee"},
		Category:        "Dining",
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	noFilter := TransactionRule{Category: "Dining"}
	if err := noFilter.Validate(); err == nil {
		t.Fatalf("rule without conditions must be rejected")
	}

	noAction := TransactionRule{FilterCondition: FilterCondition{"amount__gt": 10}}
	if err := noAction.Validate(); err == nil {
		t.Fatalf("rule without action must be rejected")
	}
}
