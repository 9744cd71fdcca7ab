package models

import (
	"errors"
)

type FlagType string

const (
	FlagTypeParseError  FlagType = "PARSE_ERROR"
	FlagTypeMissingData FlagType = "MISSING_DATA"
	FlagTypeRuleMatch   FlagType = "RULE_MATCH"
	FlagTypeDuplicate   FlagType = "DUPLICATE"
	FlagTypeCustom      FlagType = "CUSTOM"
)

// ParseFlagType validates input coming from the API.
func ParseFlagType(s string) (FlagType, error) {
	switch FlagType(s) {
	case FlagTypeParseError, FlagTypeMissingData, FlagTypeRuleMatch, FlagTypeDuplicate, FlagTypeCustom:
		return FlagType(s), nil
	}
	return "", errors.New("invalid flag type")
}

// Resolvable reports whether flags of this type may be marked resolved by the
// user. Fixed per type at creation; parse errors can only be cleared by fixing
// the underlying data.
func (t FlagType) Resolvable() bool {
	return t != FlagTypeParseError
}

// SystemGenerated reports whether flags of this type are derived state that is
// destroyed and regenerated on every update of the owning transaction.
func (t FlagType) SystemGenerated() bool {
	switch t {
	case FlagTypeParseError, FlagTypeMissingData, FlagTypeRuleMatch, FlagTypeDuplicate:
		return true
	}
	return false
}
