package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

// consume списывает один кредит из самого раннего по покупке действующего пакета.
// Возвращает nil без изменений, если действующих пакетов с остатком нет.
func (s *Service) consume(ctx context.Context, q repository.Queries, studentID int64, now time.Time) (*model.Lot, error) {
	lot, err := q.OldestActiveLot(ctx, studentID, now)
	if err != nil {
		if errors.Is(err, repository.ErrLotNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := q.UpdateLotRemaining(ctx, lot.ID, lot.CreditsRemaining-1); err != nil {
		return nil, err
	}
	lot.CreditsRemaining--

	return lot, nil
}

// restore возвращает один кредит в пакет, если его срок не истёк и остаток
// меньше купленного количества.
func (s *Service) restore(ctx context.Context, q repository.Queries, lotID int64, now time.Time) (bool, error) {
	lot, err := q.GetLot(ctx, lotID)
	if err != nil {
		if errors.Is(err, repository.ErrLotNotFound) {
			return false, nil
		}
		return false, err
	}

	if !lot.ExpiresAt.After(now) || lot.CreditsRemaining >= lot.CreditsTotal {
		return false, nil
	}

	if err := q.UpdateLotRemaining(ctx, lot.ID, lot.CreditsRemaining+1); err != nil {
		return false, err
	}

	return true, nil
}
