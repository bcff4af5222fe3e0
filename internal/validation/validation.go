// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strings"
	"time"
)

// StudentTokenLength задаёт длину токена ученика в шестнадцатеричных символах.
const StudentTokenLength = 32

// IsValidStudentToken проверяет, что токен состоит из 32 строчных шестнадцатеричных символов.
func IsValidStudentToken(token string) bool {
	if len(token) != StudentTokenLength {
		return false
	}

	for i := 0; i < len(token); i++ {
		ch := token[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}

	return true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp разбирает время начала занятия. Время без зоны считается UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, errors.New("unsupported timestamp format")
}
