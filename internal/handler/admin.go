package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/archive"
	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/validation"
)

type addStudentRequest struct {
	Name string `json:"name"`
}

type addStudentResponse struct {
	OK      bool           `json:"ok"`
	Student *model.Student `json:"student"`
}

// AddStudent создаёт ученика и выдаёт ему токен доступа.
func (h *Handler) AddStudent(w http.ResponseWriter, r *http.Request) {
	var req addStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	student, err := h.service.CreateStudent(r.Context(), req.Name, h.now())
	if err != nil {
		h.serviceError(w, err, "add student")
		return
	}

	writeJSON(w, http.StatusOK, addStudentResponse{OK: true, Student: student})
}

type addPurchaseRequest struct {
	StudentID      int64  `json:"student_id"`
	Token          string `json:"token"`
	CreditsTotal   int64  `json:"credits_total"`
	ValidityMonths int    `json:"validity_months"`
}

type addPurchaseResponse struct {
	OK  bool       `json:"ok"`
	Lot *model.Lot `json:"lot"`
}

// AddPurchase оформляет покупку пакета кредитов по id или токену ученика.
func (h *Handler) AddPurchase(w http.ResponseWriter, r *http.Request) {
	var req addPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.CreditsTotal <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_credits")
		return
	}

	studentID := req.StudentID
	if studentID <= 0 {
		token := strings.TrimSpace(req.Token)
		if !validation.IsValidStudentToken(token) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}
		student, err := h.service.StudentByToken(r.Context(), token)
		if err != nil {
			h.serviceError(w, err, "add purchase")
			return
		}
		studentID = student.ID
	}

	lot, err := h.service.Purchase(r.Context(), studentID, req.CreditsTotal, req.ValidityMonths, h.now())
	if err != nil {
		h.serviceError(w, err, "add purchase")
		return
	}

	writeJSON(w, http.StatusOK, addPurchaseResponse{OK: true, Lot: lot})
}

type setNextLessonRequest struct {
	StartsAt string `json:"starts_at"`
}

type setNextLessonResponse struct {
	OK     bool          `json:"ok"`
	Lesson *model.Lesson `json:"lesson"`
}

// SetNextLesson заменяет ближайшее занятие новым.
func (h *Handler) SetNextLesson(w http.ResponseWriter, r *http.Request) {
	var req setNextLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if strings.TrimSpace(req.StartsAt) == "" {
		writeError(w, http.StatusBadRequest, "missing_starts_at")
		return
	}

	startsAt, err := validation.ParseTimestamp(req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_starts_at")
		return
	}

	lesson, err := h.service.SetNextLesson(r.Context(), startsAt, h.now())
	if err != nil {
		h.serviceError(w, err, "set next lesson")
		return
	}

	writeJSON(w, http.StatusOK, setNextLessonResponse{OK: true, Lesson: lesson})
}

type clearRegistrationsRequest struct {
	LessonID int64 `json:"lesson_id"`
}

type clearRegistrationsResponse struct {
	OK      bool  `json:"ok"`
	Cleared int64 `json:"cleared"`
}

// ClearRegistrations удаляет все записи на занятие без возврата кредитов.
func (h *Handler) ClearRegistrations(w http.ResponseWriter, r *http.Request) {
	var req clearRegistrationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.LessonID <= 0 {
		writeError(w, http.StatusBadRequest, "missing_lesson_id")
		return
	}

	cleared, err := h.service.ClearRegistrations(r.Context(), req.LessonID)
	if err != nil {
		h.serviceError(w, err, "clear registrations")
		return
	}

	writeJSON(w, http.StatusOK, clearRegistrationsResponse{OK: true, Cleared: cleared})
}

type extendValidityRequest struct {
	ExtendDays int `json:"extend_days"`
}

type extendValidityResponse struct {
	OK          bool `json:"ok"`
	UpdatedLots int  `json:"updated_lots"`
}

// ExtendValidity продлевает все действующие пакеты на заданное число дней.
func (h *Handler) ExtendValidity(w http.ResponseWriter, r *http.Request) {
	var req extendValidityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updated, err := h.service.ExtendAll(r.Context(), req.ExtendDays, h.now())
	if err != nil {
		h.serviceError(w, err, "extend validity")
		return
	}

	writeJSON(w, http.StatusOK, extendValidityResponse{OK: true, UpdatedLots: updated})
}

type adminCancelRequest struct {
	StudentID int64 `json:"student_id"`
	LessonID  int64 `json:"lesson_id"`
}

// AdminCancel отменяет запись ученика на любое занятие без проверки окна.
func (h *Handler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	var req adminCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.StudentID <= 0 || req.LessonID <= 0 {
		writeError(w, http.StatusBadRequest, "missing_params")
		return
	}

	res, err := withRetry(r.Context(), func() (*model.CancelResult, error) {
		return h.service.AdminCancel(r.Context(), req.StudentID, req.LessonID, h.now())
	})
	if err != nil {
		h.serviceError(w, err, "admin cancel")
		return
	}

	h.writeCancel(w, res, http.StatusBadRequest)
}

type exportResponse struct {
	OK bool `json:"ok"`
	*archive.Result
}

// ExportLedger сохраняет снимок журнала в хранилище выгрузок.
func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export_failed", Details: archive.ErrNotConfigured.Error()})
		return
	}

	res, err := h.exporter.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("export ledger error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export_failed", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{OK: true, Result: res})
}

type backupStatusResponse struct {
	OK     bool            `json:"ok"`
	Latest *archive.Object `json:"latest"`
}

// BackupStatus возвращает сведения о последней выгрузке журнала.
func (h *Handler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "backup_status_failed", Details: archive.ErrNotConfigured.Error()})
		return
	}

	latest, err := h.exporter.Latest(r.Context())
	if err != nil {
		h.logger.Error("backup status error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "backup_status_failed", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, backupStatusResponse{OK: true, Latest: latest})
}

// List возвращает полную сводку для административной панели.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.Overview(r.Context(), h.now())
	if err != nil {
		h.serviceError(w, err, "admin list")
		return
	}

	if ov.Students == nil {
		ov.Students = []model.Student{}
	}
	if ov.Lots == nil {
		ov.Lots = []model.Lot{}
	}
	if ov.Registrations == nil {
		ov.Registrations = []model.RegistrationWithName{}
	}
	if ov.StudentOverview == nil {
		ov.StudentOverview = []model.StudentOverview{}
	}

	writeJSON(w, http.StatusOK, ov)
}
