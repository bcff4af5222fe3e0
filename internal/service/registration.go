package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// Register записывает ученика на ближайшее занятие, списывая один кредит по FIFO.
// Повторная запись не списывает кредит и возвращает ALREADY_REGISTERED.
func (s *Service) Register(ctx context.Context, studentID int64, now time.Time) (*model.RegisterResult, error) {
	now = now.UTC()
	var res model.RegisterResult

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}

		lesson, err := q.NextLesson(ctx, now)
		if err != nil {
			if errors.Is(err, repository.ErrLessonNotFound) {
				res.Status = model.RegisterStatusNoLesson
				return nil
			}
			return err
		}

		if !RegistrationOpen(lesson.StartsAt, now) {
			res.Status = model.RegisterStatusClosed
			return nil
		}

		if _, err := s.expireLots(ctx, q, studentID, now); err != nil {
			return err
		}

		_, err = q.GetRegistration(ctx, studentID, lesson.ID)
		if err == nil {
			res.Status = model.RegisterStatusAlreadyRegistered
			return nil
		}
		if !errors.Is(err, repository.ErrRegistrationNotFound) {
			return err
		}

		lot, err := s.consume(ctx, q, studentID, now)
		if err != nil {
			return err
		}
		if lot == nil {
			res.Status = model.RegisterStatusNoCredits
			return nil
		}

		_, err = q.InsertRegistration(ctx, model.Registration{
			StudentID:     studentID,
			LessonID:      lesson.ID,
			ConsumedLotID: lot.ID,
			RegisteredAt:  now,
		})
		if err != nil {
			return err
		}

		if _, err := s.appendLedger(ctx, q, studentID, model.EventRegister, -1, ref(lot.ID), ref(lesson.ID), now); err != nil {
			return err
		}

		res.Status = model.RegisterStatusRegistered
		res.LotID = ref(lot.ID)
		return nil
	})
	if err != nil {
		// Параллельная запись успела раньше: транзакция откатана вместе со списанием.
		if errors.Is(err, repository.ErrRegistrationExists) {
			return &model.RegisterResult{Status: model.RegisterStatusAlreadyRegistered}, nil
		}
		return nil, err
	}

	if res.Status == model.RegisterStatusRegistered {
		s.logger.Info("student registered", zap.Int64("studentID", studentID), zap.Int64("lotID", *res.LotID))
	}

	return &res, nil
}

// Cancel отменяет запись ученика на ближайшее занятие, пока открыто окно записи.
func (s *Service) Cancel(ctx context.Context, studentID int64, now time.Time) (*model.CancelResult, error) {
	now = now.UTC()
	var res model.CancelResult

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}

		lesson, err := q.NextLesson(ctx, now)
		if err != nil {
			if errors.Is(err, repository.ErrLessonNotFound) {
				res.Status = model.CancelStatusNoLesson
				return nil
			}
			return err
		}

		if _, err := s.expireLots(ctx, q, studentID, now); err != nil {
			return err
		}

		res, err = s.cancelRegistration(ctx, q, studentID, lesson.ID, &lesson.StartsAt, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// AdminCancel отменяет запись на любое занятие без проверки окна записи.
func (s *Service) AdminCancel(ctx context.Context, studentID, lessonID int64, now time.Time) (*model.CancelResult, error) {
	if lessonID <= 0 {
		return nil, ErrInvalidLessonID
	}

	now = now.UTC()
	var res model.CancelResult

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}

		if _, err := s.expireLots(ctx, q, studentID, now); err != nil {
			return err
		}

		var err error
		res, err = s.cancelRegistration(ctx, q, studentID, lessonID, nil, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("registration cancelled by admin",
		zap.Int64("studentID", studentID),
		zap.Int64("lessonID", lessonID),
		zap.String("status", string(res.Status)),
		zap.Bool("refunded", res.Refunded),
	)

	return &res, nil
}

// cancelRegistration удаляет запись и возвращает кредит в исходный пакет.
// Если lessonStart не nil, отмена разрешена только при открытом окне записи.
func (s *Service) cancelRegistration(ctx context.Context, q repository.Queries, studentID, lessonID int64,
	lessonStart *time.Time, now time.Time) (model.CancelResult, error) {
	reg, err := q.GetRegistration(ctx, studentID, lessonID)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationNotFound) {
			return model.CancelResult{Status: model.CancelStatusNotRegistered}, nil
		}
		return model.CancelResult{}, err
	}

	if lessonStart != nil && !RegistrationOpen(*lessonStart, now) {
		return model.CancelResult{Status: model.CancelStatusClosed}, nil
	}

	if err := q.DeleteRegistration(ctx, reg.ID); err != nil {
		return model.CancelResult{}, err
	}

	refunded, err := s.restore(ctx, q, reg.ConsumedLotID, now)
	if err != nil {
		return model.CancelResult{}, err
	}

	if refunded {
		if _, err := s.appendLedger(ctx, q, studentID, model.EventAdjust, 1, ref(reg.ConsumedLotID), ref(lessonID), now); err != nil {
			return model.CancelResult{}, err
		}
	}

	return model.CancelResult{Status: model.CancelStatusCancelled, Refunded: refunded}, nil
}

// SetNextLesson заменяет все будущие занятия одним новым. Записи на
// заменённые занятия не трогаются.
func (s *Service) SetNextLesson(ctx context.Context, startsAt, now time.Time) (*model.Lesson, error) {
	if startsAt.IsZero() {
		return nil, ErrInvalidLessonStart
	}

	now = now.UTC()
	var lesson *model.Lesson

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if _, err := q.DeleteLessonsFrom(ctx, now); err != nil {
			return err
		}
		var err error
		lesson, err = q.InsertLesson(ctx, startsAt.UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("next lesson set", zap.Int64("lessonID", lesson.ID), zap.Time("startsAt", lesson.StartsAt))

	return lesson, nil
}

// ClearRegistrations удаляет все записи на занятие без возврата кредитов.
func (s *Service) ClearRegistrations(ctx context.Context, lessonID int64) (int64, error) {
	if lessonID <= 0 {
		return 0, ErrInvalidLessonID
	}

	var cleared int64
	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		var err error
		cleared, err = q.DeleteRegistrationsByLesson(ctx, lessonID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("registrations cleared", zap.Int64("lessonID", lessonID), zap.Int64("count", cleared))

	return cleared, nil
}

// Status возвращает доступные кредиты ученика и состояние записи на ближайшее занятие.
func (s *Service) Status(ctx context.Context, studentID int64, now time.Time) (*model.Status, error) {
	now = now.UTC()
	var st model.Status

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		student, err := q.GetStudentByID(ctx, studentID)
		if err != nil {
			if errors.Is(err, repository.ErrStudentNotFound) {
				return ErrStudentNotFound
			}
			return err
		}
		st.Student = *student

		if _, err := s.expireLots(ctx, q, studentID, now); err != nil {
			return err
		}

		lesson, err := q.NextLesson(ctx, now)
		switch {
		case err == nil:
			st.NextLesson = lesson
			st.RegistrationOpen = RegistrationOpen(lesson.StartsAt, now)

			reg, err := q.GetRegistration(ctx, studentID, lesson.ID)
			if err == nil {
				st.Registered = true
				st.RegisteredLotID = ref(reg.ConsumedLotID)
			} else if !errors.Is(err, repository.ErrRegistrationNotFound) {
				return err
			}
		case !errors.Is(err, repository.ErrLessonNotFound):
			return err
		}

		st.CreditsAvailable, err = q.AvailableCredits(ctx, studentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &st, nil
}
