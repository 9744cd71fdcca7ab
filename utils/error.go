package utils

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// IsDuplicateKeyError reports whether err is a unique-constraint violation.
// gorm.ErrDuplicatedKey covers connections opened with TranslateError; the
// string checks cover raw MySQL (1062) and SQLite driver errors.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
