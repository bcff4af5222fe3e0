// Package handler содержит HTTP-обработчики API учёта кредитов на занятия.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/archive"
	"github.com/mmeshcher/lesson-credits/internal/middleware"
	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
	"github.com/mmeshcher/lesson-credits/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	StudentByToken(ctx context.Context, token string) (*model.Student, error)
	Status(ctx context.Context, studentID int64, now time.Time) (*model.Status, error)
	Ledger(ctx context.Context, studentID int64, includeExpiredHistory bool) (*model.LedgerView, error)
	Register(ctx context.Context, studentID int64, now time.Time) (*model.RegisterResult, error)
	Cancel(ctx context.Context, studentID int64, now time.Time) (*model.CancelResult, error)

	CreateStudent(ctx context.Context, name string, now time.Time) (*model.Student, error)
	Purchase(ctx context.Context, studentID, creditsTotal int64, validityMonths int, now time.Time) (*model.Lot, error)
	SetNextLesson(ctx context.Context, startsAt, now time.Time) (*model.Lesson, error)
	ClearRegistrations(ctx context.Context, lessonID int64) (int64, error)
	ExtendAll(ctx context.Context, days int, now time.Time) (int, error)
	AdminCancel(ctx context.Context, studentID, lessonID int64, now time.Time) (*model.CancelResult, error)
	Overview(ctx context.Context, now time.Time) (*model.Overview, error)
}

// Exporter выгружает журнал во внешнее хранилище.
type Exporter interface {
	Snapshot(ctx context.Context) (*archive.Result, error)
	Latest(ctx context.Context) (*archive.Object, error)
}

const (
	retryAttempts = 3
	retryDelay    = 25 * time.Millisecond
)

// Handler реализует HTTP-обработчики API учёта кредитов.
type Handler struct {
	service  Service
	exporter Exporter
	logger   *zap.Logger
	admin    *middleware.AdminMiddleware
	student  *middleware.StudentMiddleware
	now      func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, exporter Exporter, logger *zap.Logger, admin *middleware.AdminMiddleware) *Handler {
	return &Handler{
		service:  s,
		exporter: exporter,
		logger:   logger,
		admin:    admin,
		student:  middleware.NewStudentMiddleware(s),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

// decodeJSON читает тело запроса. Пустое тело не считается ошибкой.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// withRetry повторяет операцию при временных конфликтах хранилища.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		res, err = fn()
		if err == nil || !repository.IsRetryable(err) || attempt == retryAttempts {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, err
		case <-time.After(time.Duration(attempt) * retryDelay):
		}
	}
	return res, err
}

// serviceError переводит ошибку сервиса в HTTP-ответ.
func (h *Handler) serviceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredits):
		writeError(w, http.StatusBadRequest, "invalid_credits")
	case errors.Is(err, service.ErrInvalidValidity):
		writeError(w, http.StatusBadRequest, "invalid_validity")
	case errors.Is(err, service.ErrInvalidExtension):
		writeError(w, http.StatusBadRequest, "invalid_extend_days")
	case errors.Is(err, service.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "missing_name")
	case errors.Is(err, service.ErrInvalidLessonStart):
		writeError(w, http.StatusBadRequest, "missing_starts_at")
	case errors.Is(err, service.ErrInvalidLessonID), errors.Is(err, service.ErrInvalidStudentID):
		writeError(w, http.StatusBadRequest, "missing_params")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "student_not_found")
	default:
		h.logger.Error(op+" error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

type studentResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type statusResponse struct {
	Student          studentResponse `json:"student"`
	CreditsAvailable int64           `json:"credits_available"`
	NextLesson       *model.Lesson   `json:"next_lesson"`
	Registered       bool            `json:"registered"`
	RegisteredLotID  *int64          `json:"registered_lot_id"`
	RegistrationOpen bool            `json:"registration_open"`
}

type statusWithLedgerResponse struct {
	statusResponse
	Ledger        []model.LedgerEvent `json:"ledger"`
	CutoffApplied bool                `json:"ledger_cutoff_applied"`
}

// Status возвращает сводку по ученику; с параметром ledger добавляет журнал.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, ok := middleware.GetStudentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}

	status, err := h.service.Status(r.Context(), st.ID, h.now())
	if err != nil {
		h.serviceError(w, err, "status")
		return
	}

	resp := statusResponse{
		Student:          studentResponse{ID: status.Student.ID, Name: status.Student.Name},
		CreditsAvailable: status.CreditsAvailable,
		NextLesson:       status.NextLesson,
		Registered:       status.Registered,
		RegisteredLotID:  status.RegisteredLotID,
		RegistrationOpen: status.RegistrationOpen,
	}

	query := r.URL.Query()
	if !query.Has("ledger") {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	view, err := h.service.Ledger(r.Context(), st.ID, query.Get("ledger") == "all")
	if err != nil {
		h.serviceError(w, err, "ledger")
		return
	}

	events := view.Events
	if events == nil {
		events = []model.LedgerEvent{}
	}

	writeJSON(w, http.StatusOK, statusWithLedgerResponse{
		statusResponse: resp,
		Ledger:         events,
		CutoffApplied:  view.CutoffApplied,
	})
}

type registerResponse struct {
	OK                bool   `json:"ok"`
	LotID             *int64 `json:"lot_id,omitempty"`
	AlreadyRegistered bool   `json:"already_registered,omitempty"`
}

// Register записывает ученика на ближайшее занятие.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	st, ok := middleware.GetStudentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}

	res, err := withRetry(r.Context(), func() (*model.RegisterResult, error) {
		return h.service.Register(r.Context(), st.ID, h.now())
	})
	if err != nil {
		h.serviceError(w, err, "register")
		return
	}

	switch res.Status {
	case model.RegisterStatusRegistered:
		writeJSON(w, http.StatusOK, registerResponse{OK: true, LotID: res.LotID})
	case model.RegisterStatusAlreadyRegistered:
		writeJSON(w, http.StatusOK, registerResponse{OK: true, AlreadyRegistered: true})
	case model.RegisterStatusNoLesson:
		writeError(w, http.StatusBadRequest, "no_next_lesson")
	case model.RegisterStatusClosed:
		writeError(w, http.StatusForbidden, "registration_closed")
	case model.RegisterStatusNoCredits:
		writeError(w, http.StatusPaymentRequired, "no_credits")
	default:
		h.logger.Error("unexpected register status", zap.String("status", string(res.Status)))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

type cancelResponse struct {
	OK            bool  `json:"ok"`
	Refunded      *bool `json:"refunded,omitempty"`
	NotRegistered bool  `json:"not_registered,omitempty"`
}

// writeCancel пишет ответ на отмену; closedStatus задаёт код для закрытого окна.
func (h *Handler) writeCancel(w http.ResponseWriter, res *model.CancelResult, closedStatus int) {
	switch res.Status {
	case model.CancelStatusCancelled:
		refunded := res.Refunded
		writeJSON(w, http.StatusOK, cancelResponse{OK: true, Refunded: &refunded})
	case model.CancelStatusNotRegistered:
		writeJSON(w, http.StatusOK, cancelResponse{OK: true, NotRegistered: true})
	case model.CancelStatusNoLesson:
		writeError(w, http.StatusBadRequest, "no_next_lesson")
	case model.CancelStatusClosed:
		writeError(w, closedStatus, "registration_closed")
	default:
		h.logger.Error("unexpected cancel status", zap.String("status", string(res.Status)))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// Cancel отменяет запись ученика на ближайшее занятие.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	st, ok := middleware.GetStudentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}

	res, err := withRetry(r.Context(), func() (*model.CancelResult, error) {
		return h.service.Cancel(r.Context(), st.ID, h.now())
	})
	if err != nil {
		h.serviceError(w, err, "cancel")
		return
	}

	h.writeCancel(w, res, http.StatusForbidden)
}
