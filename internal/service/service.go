// Package service реализует учёт кредитов на занятия: пакеты, журнал,
// сгорание, FIFO-списание и запись на ближайшее занятие.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// RegistrationCutoff задаёт, за сколько до начала занятия закрываются запись и самостоятельная отмена.
const RegistrationCutoff = 2 * time.Hour

// DefaultValidityMonths содержит допустимые сроки действия пакета по умолчанию.
var DefaultValidityMonths = []int{1, 3}

// Repository описывает контракт хранилища, используемый сервисом.
// Каждая операция сервиса выполняется внутри одной транзакции.
type Repository interface {
	Close() error
	WithTx(ctx context.Context, fn func(repository.Queries) error) error
	WithReadTx(ctx context.Context, fn func(repository.Queries) error) error
}

// Service содержит бизнес-логику учёта кредитов.
type Service struct {
	repo            Repository
	logger          *zap.Logger
	allowedValidity map[int]struct{}
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAllowedValidity задаёт допустимые сроки действия пакетов в месяцах.
func WithAllowedValidity(months ...int) Option {
	return func(s *Service) {
		if len(months) == 0 {
			return
		}
		s.allowedValidity = make(map[int]struct{}, len(months))
		for _, m := range months {
			if m > 0 {
				s.allowedValidity[m] = struct{}{}
			}
		}
	}
}

// NewService создаёт новый сервис поверх указанного репозитория.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: zap.NewNop(),
	}
	WithAllowedValidity(DefaultValidityMonths...)(s)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegistrationOpen сообщает, открыта ли запись на занятие, начинающееся в start.
func RegistrationOpen(start, now time.Time) bool {
	return now.Before(start.Add(-RegistrationCutoff))
}

func (s *Service) ensureStudent(ctx context.Context, q repository.Queries, studentID int64) error {
	if studentID <= 0 {
		return ErrInvalidStudentID
	}
	if _, err := q.GetStudentByID(ctx, studentID); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return ErrStudentNotFound
		}
		return err
	}
	return nil
}

func ref(id int64) *int64 {
	return &id
}
