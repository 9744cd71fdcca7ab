package workflow

import (
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"github.com/shopspring/decimal"
)

// FlagPayload is a diagnostic produced while parsing or validating raw input,
// before it is bound to a persisted transaction.
type FlagPayload struct {
	FlagType models.FlagType
	Message  string
}

func (p FlagPayload) toFlag(transactionId int) models.TransactionFlag {
	return models.TransactionFlag{
		TransactionId: transactionId,
		FlagType:      p.FlagType,
		Message:       p.Message,
		IsResolvable:  p.FlagType.Resolvable(),
	}
}

// ParseAmount parses a raw amount into an exact decimal. Blank or unparseable
// input degrades to an absent value plus a PARSE_ERROR payload; it never fails
// hard. Precision is preserved exactly as entered, since stored amounts are
// compared for equality during duplicate detection.
func ParseAmount(raw string) (decimal.NullDecimal, *FlagPayload) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.NullDecimal{}, &FlagPayload{
			FlagType: models.FlagTypeParseError,
			Message:  "Missing or invalid amount value",
		}
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.NullDecimal{}, &FlagPayload{
			FlagType: models.FlagTypeParseError,
			Message:  fmt.Sprintf("Could not parse amount: '%s'", raw),
		}
	}
	return decimal.NullDecimal{Decimal: value, Valid: true}, nil
}

// Formats with an explicit UTC offset are tried first, then naive layouts
// (interpreted as UTC). MM/DD/YYYY is tried before DD/MM/YYYY, so an ambiguous
// date like 03/04/2023 always reads as March 4th; the DD/MM layout only
// catches dates that cannot be MM/DD (e.g. 31/12/2023). This ordering is a
// known limitation, not a locale heuristic.
var offsetDatetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
}

var naiveDatetimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"2/1/2006",
	"Jan 2 2006",
}

// ParseDatetime parses a raw timestamp. Blank input silently defaults to the
// current time. Non-blank input that matches no layout yields nil plus a
// PARSE_ERROR payload; unlike the blank case, the canonical record then
// carries no datetime at all.
func ParseDatetime(raw string) (*time.Time, *FlagPayload) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		now := time.Now().UTC()
		return &now, nil
	}
	for _, layout := range offsetDatetimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	for _, layout := range naiveDatetimeLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, &FlagPayload{
		FlagType: models.FlagTypeParseError,
		Message:  fmt.Sprintf("Could not parse date: '%s'", raw),
	}
}
