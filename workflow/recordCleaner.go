package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"github.com/shopspring/decimal"
)

// ErrEmptyRecord is the hard rejection for input carrying no usable data at
// all: absent amount, empty description and empty category.
var ErrEmptyRecord = errors.New("record rejected: description, category and amount are all missing or invalid")

// RawRecord is an untrusted input record: a free-form mapping of field names
// to scalar values, as decoded from an API body or a spreadsheet row.
type RawRecord map[string]any

// stringValue coerces the field to a string the parsers can work on. Numbers
// arriving as JSON floats keep their literal form, already-typed times
// round-trip through RFC3339.
func (r RawRecord) stringValue(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// CanonicalRecord is the cleaned, type-normalized shape of a transaction's
// fields prior to persistence.
type CanonicalRecord struct {
	Description string
	Category    string
	Amount      decimal.NullDecimal
	Datetime    *time.Time
}

// CleanRecord normalizes a raw record into canonical form. Best effort only:
// parse failures degrade to absent values here; surfacing them as flags is
// ValidationFlags' job, so validation can be re-run after rule application
// without re-cleaning.
func CleanRecord(raw RawRecord) CanonicalRecord {
	rec := CanonicalRecord{
		Description: strings.TrimSpace(raw.stringValue("description")),
		Category:    strings.TrimSpace(raw.stringValue("category")),
	}
	rec.Amount, _ = ParseAmount(raw.stringValue("amount"))
	rec.Datetime, _ = ParseDatetime(raw.stringValue("datetime"))
	return rec
}

// CleanAndValidate cleans and applies the empty-record rejection rule.
func CleanAndValidate(raw RawRecord) (CanonicalRecord, error) {
	rec := CleanRecord(raw)
	if !rec.Amount.Valid && rec.Description == "" && rec.Category == "" {
		return CanonicalRecord{}, ErrEmptyRecord
	}
	return rec, nil
}

// ValidationFlags re-derives data-quality payloads for a record: MISSING_DATA
// for blank description/category and PARSE_ERROR by re-running the parsers on
// the raw input. rec is taken separately from raw so the caller can pass the
// post-rule record: a rule-supplied category suppresses "Missing category".
func ValidationFlags(rec CanonicalRecord, raw RawRecord) []FlagPayload {
	var payloads []FlagPayload
	if _, p := ParseAmount(raw.stringValue("amount")); p != nil {
		payloads = append(payloads, *p)
	}
	if _, p := ParseDatetime(raw.stringValue("datetime")); p != nil {
		payloads = append(payloads, *p)
	}
	if rec.Description == "" {
		payloads = append(payloads, FlagPayload{
			FlagType: models.FlagTypeMissingData,
			Message:  "Missing description",
		})
	}
	if rec.Category == "" {
		payloads = append(payloads, FlagPayload{
			FlagType: models.FlagTypeMissingData,
			Message:  "Missing category",
		})
	}
	return payloads
}
