package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// expireLots обнуляет истёкшие пакеты ученика с остатком, записывает по событию
// EXPIRE на каждый и одну отметку OLDEST на последний обработанный пакет.
// Если истёкших пакетов нет, ничего не пишет.
func (s *Service) expireLots(ctx context.Context, q repository.Queries, studentID int64, now time.Time) (int, error) {
	lots, err := q.ExpiredLotsWithCredits(ctx, studentID, now)
	if err != nil {
		return 0, err
	}
	if len(lots) == 0 {
		return 0, nil
	}

	var lost int64
	for _, lot := range lots {
		if err := q.UpdateLotRemaining(ctx, lot.ID, 0); err != nil {
			return 0, err
		}
		if _, err := s.appendLedger(ctx, q, studentID, model.EventExpire, -lot.CreditsRemaining, ref(lot.ID), nil, now); err != nil {
			return 0, err
		}
		lost += lot.CreditsRemaining
	}

	last := lots[len(lots)-1].ID
	if _, err := s.appendLedger(ctx, q, studentID, model.EventOldest, 0, ref(last), nil, now); err != nil {
		return 0, err
	}

	s.logger.Info("lots expired",
		zap.Int64("studentID", studentID),
		zap.Int("lots", len(lots)),
		zap.Int64("creditsLost", lost),
	)

	return len(lots), nil
}

// ExpireLots запускает сгорание пакетов ученика в отдельной транзакции.
func (s *Service) ExpireLots(ctx context.Context, studentID int64, now time.Time) (int, error) {
	var expired int
	err := s.repo.WithTx(ctx, func(q repository.Queries) error {
		if err := s.ensureStudent(ctx, q, studentID); err != nil {
			return err
		}
		var err error
		expired, err = s.expireLots(ctx, q, studentID, now.UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
