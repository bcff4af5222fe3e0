package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mmeshcher/lesson-credits/internal/model"
)

// Queries описывает операции над хранилищем, доступные внутри одной транзакции.
// Журнал ledger_events допускает только вставку и чтение.
type Queries interface {
	CreateStudent(ctx context.Context, token, name string, createdAt time.Time) (*model.Student, error)
	GetStudentByID(ctx context.Context, id int64) (*model.Student, error)
	GetStudentByToken(ctx context.Context, token string) (*model.Student, error)
	ListStudents(ctx context.Context) ([]model.Student, error)

	InsertLot(ctx context.Context, lot model.Lot) (*model.Lot, error)
	GetLot(ctx context.Context, id int64) (*model.Lot, error)
	ListLots(ctx context.Context) ([]model.Lot, error)
	ExpiredLotsWithCredits(ctx context.Context, studentID int64, now time.Time) ([]model.Lot, error)
	OldestActiveLot(ctx context.Context, studentID int64, now time.Time) (*model.Lot, error)
	UpdateLotRemaining(ctx context.Context, lotID, remaining int64) error
	UnexpiredLots(ctx context.Context, now time.Time) ([]model.Lot, error)
	UpdateLotExpiry(ctx context.Context, lotID int64, expiresAt time.Time) error
	AvailableCredits(ctx context.Context, studentID int64, now time.Time) (int64, error)
	AvailableCreditsByStudent(ctx context.Context, now time.Time) (map[int64]int64, error)

	LastBalance(ctx context.Context, studentID int64) (int64, error)
	InsertLedgerEvent(ctx context.Context, ev model.LedgerEvent) (*model.LedgerEvent, error)
	LatestEventID(ctx context.Context, studentID int64, typ model.EventType) (int64, bool, error)
	LedgerEvents(ctx context.Context, studentID, fromID int64) ([]model.LedgerEvent, error)
	AllLedgerEvents(ctx context.Context) ([]model.LedgerEvent, error)

	NextLesson(ctx context.Context, now time.Time) (*model.Lesson, error)
	DeleteLessonsFrom(ctx context.Context, from time.Time) (int64, error)
	InsertLesson(ctx context.Context, startsAt time.Time) (*model.Lesson, error)

	GetRegistration(ctx context.Context, studentID, lessonID int64) (*model.Registration, error)
	InsertRegistration(ctx context.Context, reg model.Registration) (*model.Registration, error)
	DeleteRegistration(ctx context.Context, id int64) error
	DeleteRegistrationsByLesson(ctx context.Context, lessonID int64) (int64, error)
	RegistrationsByLesson(ctx context.Context, lessonID int64) ([]model.RegistrationWithName, error)
}

const (
	studentColumns      = `id, token, name, created_at`
	lotColumns          = `id, student_id, purchased_at, validity_months, expires_at, credits_total, credits_remaining`
	ledgerColumns       = `id, student_id, ts, type, delta_credits, balance_after, ref_lot_id, ref_lesson_id`
	lessonColumns       = `id, starts_at`
	registrationColumns = `id, student_id, lesson_id, consumed_lot_id, registered_at`
)

type queries struct {
	tx *sqlx.Tx
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return q.tx.GetContext(ctx, dest, q.tx.Rebind(query), args...)
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return q.tx.SelectContext(ctx, dest, q.tx.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.tx.ExecContext(ctx, q.tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateStudent создаёт ученика с заранее выданным токеном.
func (q *queries) CreateStudent(ctx context.Context, token, name string, createdAt time.Time) (*model.Student, error) {
	var s model.Student
	err := q.get(ctx, &s,
		`INSERT INTO students (token, name, created_at) VALUES (?, ?, ?) RETURNING `+studentColumns,
		token, name, createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrStudentTokenExists
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	return &s, nil
}

// GetStudentByID возвращает ученика по идентификатору.
func (q *queries) GetStudentByID(ctx context.Context, id int64) (*model.Student, error) {
	var s model.Student
	err := q.get(ctx, &s, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &s, nil
}

// GetStudentByToken возвращает ученика по его токену.
func (q *queries) GetStudentByToken(ctx context.Context, token string) (*model.Student, error) {
	var s model.Student
	err := q.get(ctx, &s, `SELECT `+studentColumns+` FROM students WHERE token = ?`, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student by token: %w", err)
	}
	return &s, nil
}

// ListStudents возвращает всех учеников в порядке создания.
func (q *queries) ListStudents(ctx context.Context) ([]model.Student, error) {
	var res []model.Student
	if err := q.selectAll(ctx, &res, `SELECT `+studentColumns+` FROM students ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("select students: %w", err)
	}
	return res, nil
}

// InsertLot сохраняет купленный пакет кредитов.
func (q *queries) InsertLot(ctx context.Context, lot model.Lot) (*model.Lot, error) {
	var l model.Lot
	err := q.get(ctx, &l,
		`INSERT INTO lots (student_id, purchased_at, validity_months, expires_at, credits_total, credits_remaining)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING `+lotColumns,
		lot.StudentID, lot.PurchasedAt.UTC(), lot.ValidityMonths, lot.ExpiresAt.UTC(), lot.CreditsTotal, lot.CreditsRemaining,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lot: %w", err)
	}
	return &l, nil
}

// GetLot возвращает пакет по идентификатору.
func (q *queries) GetLot(ctx context.Context, id int64) (*model.Lot, error) {
	var l model.Lot
	err := q.get(ctx, &l, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLotNotFound
		}
		return nil, fmt.Errorf("get lot: %w", err)
	}
	return &l, nil
}

// ListLots возвращает все пакеты в порядке покупки.
func (q *queries) ListLots(ctx context.Context) ([]model.Lot, error) {
	var res []model.Lot
	if err := q.selectAll(ctx, &res, `SELECT `+lotColumns+` FROM lots ORDER BY purchased_at ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}
	return res, nil
}

// ExpiredLotsWithCredits возвращает истёкшие пакеты с остатком в порядке (expires_at, id).
func (q *queries) ExpiredLotsWithCredits(ctx context.Context, studentID int64, now time.Time) ([]model.Lot, error) {
	var res []model.Lot
	err := q.selectAll(ctx, &res,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE student_id = ? AND expires_at <= ? AND credits_remaining > 0
		 ORDER BY expires_at ASC, id ASC`,
		studentID, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select expired lots: %w", err)
	}
	return res, nil
}

// OldestActiveLot возвращает самый ранний по покупке действующий пакет с остатком.
func (q *queries) OldestActiveLot(ctx context.Context, studentID int64, now time.Time) (*model.Lot, error) {
	var l model.Lot
	err := q.get(ctx, &l,
		`SELECT `+lotColumns+`
		 FROM lots
		 WHERE student_id = ? AND expires_at > ? AND credits_remaining > 0
		 ORDER BY purchased_at ASC, id ASC
		 LIMIT 1`,
		studentID, now.UTC(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLotNotFound
		}
		return nil, fmt.Errorf("select oldest lot: %w", err)
	}
	return &l, nil
}

// UpdateLotRemaining устанавливает остаток кредитов в пакете.
func (q *queries) UpdateLotRemaining(ctx context.Context, lotID, remaining int64) error {
	n, err := q.exec(ctx, `UPDATE lots SET credits_remaining = ? WHERE id = ?`, remaining, lotID)
	if err != nil {
		return fmt.Errorf("update lot remaining: %w", err)
	}
	if n == 0 {
		return ErrLotNotFound
	}
	return nil
}

// UnexpiredLots возвращает все пакеты, срок которых ещё не истёк.
func (q *queries) UnexpiredLots(ctx context.Context, now time.Time) ([]model.Lot, error) {
	var res []model.Lot
	err := q.selectAll(ctx, &res,
		`SELECT `+lotColumns+` FROM lots WHERE expires_at > ? ORDER BY id ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select unexpired lots: %w", err)
	}
	return res, nil
}

// UpdateLotExpiry переносит срок действия пакета.
func (q *queries) UpdateLotExpiry(ctx context.Context, lotID int64, expiresAt time.Time) error {
	n, err := q.exec(ctx, `UPDATE lots SET expires_at = ? WHERE id = ?`, expiresAt.UTC(), lotID)
	if err != nil {
		return fmt.Errorf("update lot expiry: %w", err)
	}
	if n == 0 {
		return ErrLotNotFound
	}
	return nil
}

// AvailableCredits возвращает сумму остатков по действующим пакетам ученика.
func (q *queries) AvailableCredits(ctx context.Context, studentID int64, now time.Time) (int64, error) {
	var credits int64
	err := q.get(ctx, &credits,
		`SELECT CAST(COALESCE(SUM(credits_remaining), 0) AS BIGINT)
		 FROM lots
		 WHERE student_id = ? AND expires_at > ?`,
		studentID, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sum credits: %w", err)
	}
	return credits, nil
}

// AvailableCreditsByStudent возвращает доступные кредиты всех учеников.
func (q *queries) AvailableCreditsByStudent(ctx context.Context, now time.Time) (map[int64]int64, error) {
	var rows []struct {
		StudentID int64 `db:"student_id"`
		Credits   int64 `db:"credits"`
	}
	err := q.selectAll(ctx, &rows,
		`SELECT student_id, CAST(COALESCE(SUM(credits_remaining), 0) AS BIGINT) AS credits
		 FROM lots
		 WHERE expires_at > ?
		 GROUP BY student_id`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("sum credits by student: %w", err)
	}

	res := make(map[int64]int64, len(rows))
	for _, r := range rows {
		res[r.StudentID] = r.Credits
	}
	return res, nil
}

// LastBalance возвращает баланс после последнего события журнала ученика.
func (q *queries) LastBalance(ctx context.Context, studentID int64) (int64, error) {
	var balance int64
	err := q.get(ctx, &balance,
		`SELECT balance_after FROM ledger_events WHERE student_id = ? ORDER BY id DESC LIMIT 1`,
		studentID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

// InsertLedgerEvent добавляет событие в журнал. Баланс уже должен быть посчитан.
func (q *queries) InsertLedgerEvent(ctx context.Context, ev model.LedgerEvent) (*model.LedgerEvent, error) {
	var e model.LedgerEvent
	err := q.get(ctx, &e,
		`INSERT INTO ledger_events (student_id, ts, type, delta_credits, balance_after, ref_lot_id, ref_lesson_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING `+ledgerColumns,
		ev.StudentID, ev.At.UTC(), string(ev.Type), ev.Delta, ev.BalanceAfter, ev.RefLotID, ev.RefLessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger event: %w", err)
	}
	return &e, nil
}

// LatestEventID возвращает идентификатор последнего события указанного типа.
func (q *queries) LatestEventID(ctx context.Context, studentID int64, typ model.EventType) (int64, bool, error) {
	var id int64
	err := q.get(ctx, &id,
		`SELECT id FROM ledger_events WHERE student_id = ? AND type = ? ORDER BY id DESC LIMIT 1`,
		studentID, string(typ),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select latest event: %w", err)
	}
	return id, true, nil
}

// LedgerEvents возвращает события ученика с id не меньше fromID в порядке записи.
func (q *queries) LedgerEvents(ctx context.Context, studentID, fromID int64) ([]model.LedgerEvent, error) {
	var res []model.LedgerEvent
	err := q.selectAll(ctx, &res,
		`SELECT `+ledgerColumns+` FROM ledger_events WHERE student_id = ? AND id >= ? ORDER BY id ASC`,
		studentID, fromID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	return res, nil
}

// AllLedgerEvents возвращает журнал целиком.
func (q *queries) AllLedgerEvents(ctx context.Context) ([]model.LedgerEvent, error) {
	var res []model.LedgerEvent
	if err := q.selectAll(ctx, &res, `SELECT `+ledgerColumns+` FROM ledger_events ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	return res, nil
}

// NextLesson возвращает ближайшее занятие, начинающееся не раньше now.
func (q *queries) NextLesson(ctx context.Context, now time.Time) (*model.Lesson, error) {
	var l model.Lesson
	err := q.get(ctx, &l,
		`SELECT `+lessonColumns+` FROM lesson_events WHERE starts_at >= ? ORDER BY starts_at ASC, id ASC LIMIT 1`,
		now.UTC(),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLessonNotFound
		}
		return nil, fmt.Errorf("select next lesson: %w", err)
	}
	return &l, nil
}

// DeleteLessonsFrom удаляет занятия, начинающиеся не раньше from.
func (q *queries) DeleteLessonsFrom(ctx context.Context, from time.Time) (int64, error) {
	n, err := q.exec(ctx, `DELETE FROM lesson_events WHERE starts_at >= ?`, from.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete lessons: %w", err)
	}
	return n, nil
}

// InsertLesson создаёт занятие.
func (q *queries) InsertLesson(ctx context.Context, startsAt time.Time) (*model.Lesson, error) {
	var l model.Lesson
	err := q.get(ctx, &l,
		`INSERT INTO lesson_events (starts_at) VALUES (?) RETURNING `+lessonColumns,
		startsAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert lesson: %w", err)
	}
	return &l, nil
}

// GetRegistration возвращает запись ученика на занятие.
func (q *queries) GetRegistration(ctx context.Context, studentID, lessonID int64) (*model.Registration, error) {
	var r model.Registration
	err := q.get(ctx, &r,
		`SELECT `+registrationColumns+` FROM registrations WHERE student_id = ? AND lesson_id = ?`,
		studentID, lessonID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &r, nil
}

// InsertRegistration создаёт запись на занятие. Повторная запись даёт ErrRegistrationExists.
func (q *queries) InsertRegistration(ctx context.Context, reg model.Registration) (*model.Registration, error) {
	var r model.Registration
	err := q.get(ctx, &r,
		`INSERT INTO registrations (student_id, lesson_id, consumed_lot_id, registered_at)
		 VALUES (?, ?, ?, ?) RETURNING `+registrationColumns,
		reg.StudentID, reg.LessonID, reg.ConsumedLotID, reg.RegisteredAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRegistrationExists
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}
	return &r, nil
}

// DeleteRegistration удаляет запись по идентификатору.
func (q *queries) DeleteRegistration(ctx context.Context, id int64) error {
	n, err := q.exec(ctx, `DELETE FROM registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if n == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

// DeleteRegistrationsByLesson удаляет все записи на занятие и возвращает их число.
func (q *queries) DeleteRegistrationsByLesson(ctx context.Context, lessonID int64) (int64, error) {
	n, err := q.exec(ctx, `DELETE FROM registrations WHERE lesson_id = ?`, lessonID)
	if err != nil {
		return 0, fmt.Errorf("delete registrations: %w", err)
	}
	return n, nil
}

// RegistrationsByLesson возвращает записи на занятие вместе с именами учеников.
func (q *queries) RegistrationsByLesson(ctx context.Context, lessonID int64) ([]model.RegistrationWithName, error) {
	var res []model.RegistrationWithName
	err := q.selectAll(ctx, &res,
		`SELECT r.id, r.student_id, r.lesson_id, r.consumed_lot_id, r.registered_at, s.name
		 FROM registrations r
		 JOIN students s ON s.id = r.student_id
		 WHERE r.lesson_id = ?
		 ORDER BY r.registered_at ASC, r.id ASC`,
		lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("select registrations: %w", err)
	}
	return res, nil
}
