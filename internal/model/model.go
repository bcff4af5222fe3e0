// Package model содержит доменные сущности сервиса учёта занятий.
package model

import "time"

// Student представляет ученика, которому начисляются кредиты на занятия.
type Student struct {
	ID        int64     `db:"id" json:"id"`
	Token     string    `db:"token" json:"token"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Lot описывает купленный пакет кредитов с ограниченным сроком действия.
type Lot struct {
	ID               int64     `db:"id" json:"id"`
	StudentID        int64     `db:"student_id" json:"student_id"`
	PurchasedAt      time.Time `db:"purchased_at" json:"purchased_at"`
	ValidityMonths   int       `db:"validity_months" json:"validity_months"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	CreditsTotal     int64     `db:"credits_total" json:"credits_total"`
	CreditsRemaining int64     `db:"credits_remaining" json:"credits_remaining"`
}

// Active сообщает, можно ли ещё списывать кредиты из пакета в момент now.
func (l Lot) Active(now time.Time) bool {
	return l.CreditsRemaining > 0 && l.ExpiresAt.After(now)
}

// EventType описывает тип события в журнале кредитов.
type EventType string

const (
	EventPurchase EventType = "PURCHASE"
	EventRegister EventType = "REGISTER"
	EventAdjust   EventType = "ADJUST"
	EventExpire   EventType = "EXPIRE"
	EventExtend   EventType = "EXTEND"
	// EventOldest отмечает место, с которого журнал показывается по умолчанию.
	EventOldest EventType = "OLDEST"
)

// LedgerEvent описывает неизменяемую запись журнала с балансом после события.
type LedgerEvent struct {
	ID           int64     `db:"id" json:"id"`
	StudentID    int64     `db:"student_id" json:"student_id"`
	At           time.Time `db:"ts" json:"ts"`
	Type         EventType `db:"type" json:"type"`
	Delta        int64     `db:"delta_credits" json:"delta_credits"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	RefLotID     *int64    `db:"ref_lot_id" json:"ref_lot_id"`
	RefLessonID  *int64    `db:"ref_lesson_id" json:"ref_lesson_id"`
}

// Lesson описывает запланированное занятие.
type Lesson struct {
	ID       int64     `db:"id" json:"id"`
	StartsAt time.Time `db:"starts_at" json:"starts_at"`
}

// Registration связывает ученика с занятием и списанным пакетом.
type Registration struct {
	ID            int64     `db:"id" json:"id"`
	StudentID     int64     `db:"student_id" json:"student_id"`
	LessonID      int64     `db:"lesson_id" json:"lesson_id"`
	ConsumedLotID int64     `db:"consumed_lot_id" json:"consumed_lot_id"`
	RegisteredAt  time.Time `db:"registered_at" json:"registered_at"`
}

// RegistrationWithName дополняет запись на занятие именем ученика.
type RegistrationWithName struct {
	Registration
	Name string `db:"name" json:"name"`
}

// RegisterStatus описывает исход попытки записи на занятие.
type RegisterStatus string

const (
	RegisterStatusRegistered        RegisterStatus = "REGISTERED"
	RegisterStatusAlreadyRegistered RegisterStatus = "ALREADY_REGISTERED"
	RegisterStatusNoCredits         RegisterStatus = "NO_CREDITS"
	RegisterStatusClosed            RegisterStatus = "CLOSED"
	RegisterStatusNoLesson          RegisterStatus = "NO_LESSON"
)

// RegisterResult содержит результат записи на ближайшее занятие.
type RegisterResult struct {
	Status RegisterStatus `json:"status"`
	LotID  *int64         `json:"lot_id,omitempty"`
}

// CancelStatus описывает исход отмены записи.
type CancelStatus string

const (
	CancelStatusCancelled     CancelStatus = "CANCELLED"
	CancelStatusNotRegistered CancelStatus = "NOT_REGISTERED"
	CancelStatusClosed        CancelStatus = "CLOSED"
	CancelStatusNoLesson      CancelStatus = "NO_LESSON"
)

// CancelResult содержит результат отмены записи и признак возврата кредита.
type CancelResult struct {
	Status   CancelStatus `json:"status"`
	Refunded bool         `json:"refunded"`
}

// Status содержит сводку по ученику для его личной страницы.
type Status struct {
	Student          Student `json:"student"`
	CreditsAvailable int64   `json:"credits_available"`
	NextLesson       *Lesson `json:"next_lesson"`
	Registered       bool    `json:"registered"`
	RegisteredLotID  *int64  `json:"registered_lot_id"`
	RegistrationOpen bool    `json:"registration_open"`
}

// LedgerView содержит журнал ученика и признак применённой отсечки.
type LedgerView struct {
	Events        []LedgerEvent `json:"ledger"`
	CutoffApplied bool          `json:"ledger_cutoff_applied"`
}

// StudentOverview описывает краткую строку по ученику для администратора.
type StudentOverview struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	CreditsAvailable  int64  `json:"credits_available"`
	RegisteredForNext bool   `json:"registered_for_next"`
}

// Overview содержит полную сводку для административной панели.
type Overview struct {
	Students        []Student              `json:"students"`
	Lots            []Lot                  `json:"lots"`
	NextLesson      *Lesson                `json:"next_lesson"`
	Registrations   []RegistrationWithName `json:"registrations"`
	StudentOverview []StudentOverview      `json:"student_overview"`
}
