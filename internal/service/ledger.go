package service

import (
	"context"
	"time"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// appendLedger дописывает событие, вычисляя баланс от последней записи ученика.
func (s *Service) appendLedger(ctx context.Context, q repository.Queries, studentID int64, typ model.EventType,
	delta int64, lotID, lessonID *int64, now time.Time) (*model.LedgerEvent, error) {
	balance, err := q.LastBalance(ctx, studentID)
	if err != nil {
		return nil, err
	}

	return q.InsertLedgerEvent(ctx, model.LedgerEvent{
		StudentID:    studentID,
		At:           now,
		Type:         typ,
		Delta:        delta,
		BalanceAfter: balance + delta,
		RefLotID:     lotID,
		RefLessonID:  lessonID,
	})
}

// Ledger возвращает журнал ученика. Без includeExpiredHistory события до
// последней отметки OLDEST скрываются.
func (s *Service) Ledger(ctx context.Context, studentID int64, includeExpiredHistory bool) (*model.LedgerView, error) {
	var view model.LedgerView

	err := s.repo.WithReadTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}

		var fromID int64
		if !includeExpiredHistory {
			id, ok, err := q.LatestEventID(ctx, studentID, model.EventOldest)
			if err != nil {
				return err
			}
			if ok {
				fromID = id
				view.CutoffApplied = true
			}
		}

		events, err := q.LedgerEvents(ctx, studentID, fromID)
		if err != nil {
			return err
		}
		view.Events = events
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &view, nil
}

// LedgerSnapshot читает весь журнал без изменений, для выгрузки в архив.
func (s *Service) LedgerSnapshot(ctx context.Context) ([]model.LedgerEvent, error) {
	var events []model.LedgerEvent
	err := s.repo.WithReadTx(ctx, func(q repository.Queries) error {
		var err error
		events, err = q.AllLedgerEvents(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Balance возвращает баланс ученика по последней записи журнала.
func (s *Service) Balance(ctx context.Context, studentID int64) (int64, error) {
	var balance int64
	err := s.repo.WithReadTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}
		var err error
		balance, err = q.LastBalance(ctx, studentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
