package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// Категории ошибок. Конкретные ошибки ниже оборачивают одну из них.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrStateConflict       = errors.New("state conflict")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

var (
	ErrInvalidCredits     = fmt.Errorf("%w: credits must be positive", ErrValidation)
	ErrInvalidValidity    = fmt.Errorf("%w: validity period is not allowed", ErrValidation)
	ErrInvalidExtension   = fmt.Errorf("%w: extension days must be positive", ErrValidation)
	ErrInvalidName        = fmt.Errorf("%w: student name is empty", ErrValidation)
	ErrInvalidStudentID   = fmt.Errorf("%w: student id must be positive", ErrValidation)
	ErrInvalidLessonID    = fmt.Errorf("%w: lesson id must be positive", ErrValidation)
	ErrInvalidLessonStart = fmt.Errorf("%w: lesson start is missing", ErrValidation)

	ErrStudentNotFound = fmt.Errorf("%w: %w", ErrNotFound, repository.ErrStudentNotFound)

	ErrNoLesson           = fmt.Errorf("%w: no upcoming lesson", ErrStateConflict)
	ErrRegistrationClosed = fmt.Errorf("%w: registration window is closed", ErrStateConflict)
	ErrAlreadyRegistered  = fmt.Errorf("%w: already registered", ErrStateConflict)
	ErrNotRegistered      = fmt.Errorf("%w: not registered", ErrStateConflict)

	ErrNoCredits = fmt.Errorf("%w: no active lot with remaining credits", ErrInsufficientCredits)
)

// RegisterError возвращает ошибку, соответствующую неуспешному исходу записи, или nil.
func RegisterError(status model.RegisterStatus) error {
	switch status {
	case model.RegisterStatusNoLesson:
		return ErrNoLesson
	case model.RegisterStatusClosed:
		return ErrRegistrationClosed
	case model.RegisterStatusNoCredits:
		return ErrNoCredits
	case model.RegisterStatusAlreadyRegistered:
		return ErrAlreadyRegistered
	default:
		return nil
	}
}

// CancelError возвращает ошибку, соответствующую неуспешному исходу отмены, или nil.
func CancelError(status model.CancelStatus) error {
	switch status {
	case model.CancelStatusNoLesson:
		return ErrNoLesson
	case model.CancelStatusClosed:
		return ErrRegistrationClosed
	case model.CancelStatusNotRegistered:
		return ErrNotRegistered
	default:
		return nil
	}
}
