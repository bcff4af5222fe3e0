package service

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/lesson-credits/internal/model"
	"github.com/mmeshcher/lesson-credits/internal/repository"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newTestService(t *testing.T) (*Service, *repository.Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewService(repo), repo
}

func mustStudent(t *testing.T, svc *Service, name string) *model.Student {
	t.Helper()
	st, err := svc.CreateStudent(context.Background(), name, base)
	require.NoError(t, err)
	return st
}

func mustPurchase(t *testing.T, svc *Service, studentID, credits int64, months int, at time.Time) *model.Lot {
	t.Helper()
	lot, err := svc.Purchase(context.Background(), studentID, credits, months, at)
	require.NoError(t, err)
	return lot
}

func getLot(t *testing.T, repo *repository.Repository, id int64) *model.Lot {
	t.Helper()
	var lot *model.Lot
	require.NoError(t, repo.WithReadTx(context.Background(), func(q repository.Queries) error {
		var err error
		lot, err = q.GetLot(context.Background(), id)
		return err
	}))
	return lot
}

func ledgerOf(t *testing.T, repo *repository.Repository, studentID int64) []model.LedgerEvent {
	t.Helper()
	var events []model.LedgerEvent
	require.NoError(t, repo.WithReadTx(context.Background(), func(q repository.Queries) error {
		var err error
		events, err = q.LedgerEvents(context.Background(), studentID, 0)
		return err
	}))
	return events
}

func eventTypes(events []model.LedgerEvent) []model.EventType {
	res := make([]model.EventType, 0, len(events))
	for _, ev := range events {
		res = append(res, ev.Type)
	}
	return res
}

// assertBalanced проверяет, что после сгорания сумма остатков действующих пакетов
// равна последнему балансу журнала, а журнал непрерывен.
func assertBalanced(t *testing.T, svc *Service, repo *repository.Repository, studentID int64, now time.Time) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.ExpireLots(ctx, studentID, now)
	require.NoError(t, err)

	var active, balance int64
	require.NoError(t, repo.WithReadTx(ctx, func(q repository.Queries) error {
		var err error
		if active, err = q.AvailableCredits(ctx, studentID, now); err != nil {
			return err
		}
		balance, err = q.LastBalance(ctx, studentID)
		return err
	}))
	assert.Equal(t, balance, active, "active credits must match ledger balance")

	var prev int64
	for i, ev := range ledgerOf(t, repo, studentID) {
		assert.Equal(t, prev+ev.Delta, ev.BalanceAfter, "ledger event %d (%s)", i, ev.Type)
		prev = ev.BalanceAfter
	}
}

// wrappedRepo подменяет Queries внутри пишущих транзакций.
type wrappedRepo struct {
	*repository.Repository
	wrap func(repository.Queries) repository.Queries
}

func (r *wrappedRepo) WithTx(ctx context.Context, fn func(repository.Queries) error) error {
	return r.Repository.WithTx(ctx, func(q repository.Queries) error {
		return fn(r.wrap(q))
	})
}

var errInjected = errors.New("injected failure")

type failingLedgerQueries struct {
	repository.Queries
	failOn model.EventType
}

func (q failingLedgerQueries) InsertLedgerEvent(ctx context.Context, ev model.LedgerEvent) (*model.LedgerEvent, error) {
	if ev.Type == q.failOn {
		return nil, errInjected
	}
	return q.Queries.InsertLedgerEvent(ctx, ev)
}

func TestCreateStudent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.CreateStudent(ctx, "  Anna  ", base)
	require.NoError(t, err)
	assert.Equal(t, "Anna", st.Name)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), st.Token)

	found, err := svc.StudentByToken(ctx, st.Token)
	require.NoError(t, err)
	assert.Equal(t, st.ID, found.ID)

	_, err = svc.CreateStudent(ctx, "   ", base)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.StudentByToken(ctx, "0123456789abcdef0123456789abcdef")
	assert.ErrorIs(t, err, ErrStudentNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStudentByToken_MalformedSkipsStorage(t *testing.T) {
	svc := NewService(nil)

	for _, token := range []string{"", "short", "0123456789ABCDEF0123456789ABCDEF", "' OR 1=1 --"} {
		_, err := svc.StudentByToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrStudentNotFound, token)
	}
}

func TestOverview(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	anna := mustStudent(t, svc, "Anna")
	boris := mustStudent(t, svc, "Boris")
	mustPurchase(t, svc, anna.ID, 3, 1, base)
	mustPurchase(t, svc, boris.ID, 5, 3, base)

	lesson, err := svc.SetNextLesson(ctx, base.Add(72*time.Hour), base)
	require.NoError(t, err)

	res, err := svc.Register(ctx, anna.ID, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, model.RegisterStatusRegistered, res.Status)

	ov, err := svc.Overview(ctx, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Len(t, ov.Students, 2)
	assert.Len(t, ov.Lots, 2)
	require.NotNil(t, ov.NextLesson)
	assert.Equal(t, lesson.ID, ov.NextLesson.ID)
	require.Len(t, ov.Registrations, 1)
	assert.Equal(t, "Anna", ov.Registrations[0].Name)

	require.Len(t, ov.StudentOverview, 2)
	assert.Equal(t, model.StudentOverview{ID: anna.ID, Name: "Anna", CreditsAvailable: 2, RegisteredForNext: true}, ov.StudentOverview[0])
	assert.Equal(t, model.StudentOverview{ID: boris.ID, Name: "Boris", CreditsAvailable: 5}, ov.StudentOverview[1])
}

func TestOverview_NoLesson(t *testing.T) {
	svc, _ := newTestService(t)

	mustStudent(t, svc, "Anna")

	ov, err := svc.Overview(context.Background(), base)
	require.NoError(t, err)
	assert.Nil(t, ov.NextLesson)
	assert.Empty(t, ov.Registrations)
	require.Len(t, ov.StudentOverview, 1)
	assert.Zero(t, ov.StudentOverview[0].CreditsAvailable)
}

func TestRegisterError(t *testing.T) {
	assert.NoError(t, RegisterError(model.RegisterStatusRegistered))
	assert.ErrorIs(t, RegisterError(model.RegisterStatusAlreadyRegistered), ErrStateConflict)
	assert.ErrorIs(t, RegisterError(model.RegisterStatusClosed), ErrRegistrationClosed)
	assert.ErrorIs(t, RegisterError(model.RegisterStatusNoLesson), ErrNoLesson)
	assert.ErrorIs(t, RegisterError(model.RegisterStatusNoCredits), ErrInsufficientCredits)
}

func TestCancelError(t *testing.T) {
	assert.NoError(t, CancelError(model.CancelStatusCancelled))
	assert.ErrorIs(t, CancelError(model.CancelStatusNotRegistered), ErrNotRegistered)
	assert.ErrorIs(t, CancelError(model.CancelStatusClosed), ErrStateConflict)
	assert.ErrorIs(t, CancelError(model.CancelStatusNoLesson), ErrNoLesson)
}

func TestRegistrationOpen(t *testing.T) {
	start := base.Add(24 * time.Hour)

	assert.True(t, RegistrationOpen(start, start.Add(-RegistrationCutoff-time.Second)))
	assert.False(t, RegistrationOpen(start, start.Add(-RegistrationCutoff)))
	assert.False(t, RegistrationOpen(start, start.Add(-RegistrationCutoff+time.Second)))
}

func TestValidationHappensBeforeStorage(t *testing.T) {
	// Репозиторий не нужен: ошибки валидации возвращаются до открытия транзакции.
	svc := NewService(nil)
	ctx := context.Background()

	_, err := svc.Purchase(ctx, 1, 0, 1, base)
	assert.ErrorIs(t, err, ErrInvalidCredits)

	_, err = svc.Purchase(ctx, 1, -5, 1, base)
	assert.ErrorIs(t, err, ErrInvalidCredits)

	_, err = svc.Purchase(ctx, 1, 3, 2, base)
	assert.ErrorIs(t, err, ErrInvalidValidity)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ExtendAll(ctx, 0, base)
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, err = svc.AdminCancel(ctx, 1, 0, base)
	assert.ErrorIs(t, err, ErrInvalidLessonID)

	_, err = svc.ClearRegistrations(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidLessonID)

	_, err = svc.SetNextLesson(ctx, time.Time{}, base)
	assert.ErrorIs(t, err, ErrInvalidLessonStart)

	_, err = svc.CreateStudent(ctx, "", base)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestWithAllowedValidity(t *testing.T) {
	svc, _ := newTestService(t)
	svc = NewService(svc.repo, WithAllowedValidity(6))

	st := mustStudent(t, svc, "Anna")

	_, err := svc.Purchase(context.Background(), st.ID, 3, 1, base)
	assert.ErrorIs(t, err, ErrInvalidValidity)

	lot := mustPurchase(t, svc, st.ID, 3, 6, base)
	assert.True(t, lot.ExpiresAt.Equal(base.AddDate(0, 6, 0)))
}
