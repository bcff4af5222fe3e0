package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// AddMonths прибавляет к t целое число месяцев в UTC. Переполнение дня месяца
// переносится вперёд: 31 января + 1 месяц = 3 марта (2 марта в високосный год).
func AddMonths(t time.Time, months int) time.Time {
	return t.UTC().AddDate(0, months, 0)
}

// Purchase создаёт пакет кредитов ученика и записывает событие PURCHASE.
func (s *Service) Purchase(ctx context.Context, studentID, creditsTotal int64, validityMonths int, now time.Time) (*model.Lot, error) {
	if creditsTotal <= 0 {
		return nil, ErrInvalidCredits
	}
	if _, ok := s.allowedValidity[validityMonths]; !ok {
		return nil, ErrInvalidValidity
	}

	now = now.UTC()
	var lot *model.Lot

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}
		if _, err := s.expireLots(ctx, q, studentID, now); err != nil {
			return err
		}

		var err error
		lot, err = q.InsertLot(ctx, model.Lot{
			StudentID:        studentID,
			PurchasedAt:      now,
			ValidityMonths:   validityMonths,
			ExpiresAt:        AddMonths(now, validityMonths),
			CreditsTotal:     creditsTotal,
			CreditsRemaining: creditsTotal,
		})
		if err != nil {
			return err
		}

		_, err = s.appendLedger(ctx, q, studentID, model.EventPurchase, creditsTotal, ref(lot.ID), nil, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lot purchased",
		zap.Int64("studentID", studentID),
		zap.Int64("lotID", lot.ID),
		zap.Int64("credits", creditsTotal),
		zap.Int("validityMonths", validityMonths),
	)

	return lot, nil
}

// ExtendAll продлевает на days дней все пакеты, срок которых ещё не истёк,
// и записывает по событию EXTEND на каждый пакет. Возвращает число пакетов.
func (s *Service) ExtendAll(ctx context.Context, days int, now time.Time) (int, error) {
	if days <= 0 {
		return 0, ErrInvalidExtension
	}

	now = now.UTC()
	var updated int

	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		lots, err := q.UnexpiredLots(ctx, now)
		if err != nil {
			return err
		}

		for _, lot := range lots {
			if err := q.UpdateLotExpiry(ctx, lot.ID, lot.ExpiresAt.AddDate(0, 0, days)); err != nil {
				return err
			}
			if _, err := s.appendLedger(ctx, q, lot.StudentID, model.EventExtend, 0, ref(lot.ID), nil, now); err != nil {
				return err
			}
		}

		updated = len(lots)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("lots extended", zap.Int("days", days), zap.Int("lots", updated))

	return updated, nil
}
