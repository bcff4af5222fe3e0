package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStudentNotFound возвращается, если ученик не найден.
	ErrStudentNotFound = errors.New("student not found")
	// ErrLotNotFound возвращается, если пакет кредитов не найден.
	ErrLotNotFound = errors.New("lot not found")
	// ErrLessonNotFound возвращается, если подходящее занятие не найдено.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrRegistrationNotFound возвращается, если запись на занятие не найдена.
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrRegistrationExists возвращается при нарушении уникальности (student_id, lesson_id).
	ErrRegistrationExists = errors.New("registration already exists")
	// ErrStudentTokenExists возвращается при коллизии токена ученика.
	ErrStudentTokenExists = errors.New("student token already exists")
)

// IsRetryable сообщает, что транзакция упала из-за конфликта и её можно повторить целиком.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}
