package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
	"github.com/mmeshcher/lesson-credits/internal/validation"
)

// newStudentToken выдаёт 32 шестнадцатеричных символа из случайного UUID.
func newStudentToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateStudent создаёт ученика и выдаёт ему токен доступа.
func (s *Service) CreateStudent(ctx context.Context, name string, now time.Time) (*model.Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var student *model.Student
	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		var err error
		student, err = q.CreateStudent(ctx, newStudentToken(), name, now.UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("student created", zap.Int64("studentID", student.ID))

	return student, nil
}

// StudentByToken возвращает ученика по токену. Токен неверного формата
// не доходит до хранилища.
func (s *Service) StudentByToken(ctx context.Context, token string) (*model.Student, error) {
	if !validation.IsValidStudentToken(token) {
		return nil, ErrStudentNotFound
	}

	var student *model.Student
	err := s.repo.WithReadTx(ctx, func(q repository.Queries) error {
		var err error
		student, err = q.GetStudentByToken(ctx, token)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return student, nil
}

// Overview собирает сводку для администратора: ученики, пакеты, ближайшее
// занятие и записи на него.
func (s *Service) Overview(ctx context.Context, now time.Time) (*model.Overview, error) {
	now = now.UTC()
	var ov model.Overview

	err := s.repo.WithReadTx(ctx, func(q repository.Queries) error {
		var err error
		if ov.Students, err = q.ListStudents(ctx); err != nil {
			return err
		}
		if ov.Lots, err = q.ListLots(ctx); err != nil {
			return err
		}

		lesson, err := q.NextLesson(ctx, now)
		switch {
		case err == nil:
			ov.NextLesson = lesson
			if ov.Registrations, err = q.RegistrationsByLesson(ctx, lesson.ID); err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrLessonNotFound):
			return err
		}

		credits, err := q.AvailableCreditsByStudent(ctx, now)
		if err != nil {
			return err
		}

		registered := make(map[int64]bool, len(ov.Registrations))
		for _, r := range ov.Registrations {
			registered[r.StudentID] = true
		}

		ov.StudentOverview = make([]model.StudentOverview, 0, len(ov.Students))
		for _, st := range ov.Students {
			ov.StudentOverview = append(ov.StudentOverview, model.StudentOverview{
				ID:                st.ID,
				Name:              st.Name,
				CreditsAvailable:  credits[st.ID],
				RegisteredForNext: registered[st.ID],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ov, nil
}
