// Package archive выгружает журнал кредитов в холодное хранилище.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lesson-credits/internal/model"
)

// KeyPrefix задаёт общий префикс ключей выгрузок журнала.
const KeyPrefix = "ledger/"

// ErrNotConfigured возвращается, если хранилище для выгрузок не задано.
var ErrNotConfigured = errors.New("archive store is not configured")

// Source отдаёт журнал целиком. Чтение не должно менять данные.
type Source interface {
	LedgerSnapshot(ctx context.Context) ([]model.LedgerEvent, error)
}

// Store сохраняет объекты выгрузки по ключу.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Latest возвращает последний по ключу объект с указанным префиксом или nil.
	Latest(ctx context.Context, prefix string) (*Object, error)
}

// Object описывает сохранённую выгрузку.
type Object struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// Result описывает итог одной выгрузки.
type Result struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type snapshot struct {
	GeneratedAt string              `json:"generated_at"`
	Count       int                 `json:"count"`
	Rows        []model.LedgerEvent `json:"rows"`
}

// Exporter читает журнал и сохраняет его снимок в Store.
type Exporter struct {
	source Source
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter создаёт выгрузчик журнала.
func NewExporter(source Source, store Store, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

var keyReplacer = strings.NewReplacer(":", "-", ".", "-")

// Key строит ключ выгрузки вида ledger/2026/03/02/ledger-2026-03-02T10-00-00-000Z.json.
func Key(at time.Time) string {
	at = at.UTC()
	stamp := at.Format("2006-01-02T15:04:05.000Z07:00")
	return KeyPrefix + at.Format("2006/01/02") + "/ledger-" + keyReplacer.Replace(stamp) + ".json"
}

// Snapshot выгружает весь журнал одним объектом.
func (e *Exporter) Snapshot(ctx context.Context) (*Result, error) {
	if e == nil || e.store == nil {
		return nil, ErrNotConfigured
	}

	rows, err := e.source.LedgerSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if rows == nil {
		rows = []model.LedgerEvent{}
	}

	now := e.now().UTC()
	data, err := json.Marshal(snapshot{
		GeneratedAt: now.Format("2006-01-02T15:04:05.000Z07:00"),
		Count:       len(rows),
		Rows:        rows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	key := Key(now)
	if err := e.put(ctx, key, data); err != nil {
		return nil, err
	}

	e.logger.Info("ledger exported", zap.String("key", key), zap.Int("rows", len(rows)))

	return &Result{Key: key, Count: len(rows)}, nil
}

// put сохраняет объект, один раз повторяя попытку после 429 от хранилища.
func (e *Exporter) put(ctx context.Context, key string, data []byte) error {
	err := e.store.Put(ctx, key, data)

	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		timer := time.NewTimer(rl.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = e.store.Put(ctx, key, data)
	}

	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Latest возвращает последнюю выгрузку или nil, если выгрузок ещё не было.
func (e *Exporter) Latest(ctx context.Context) (*Object, error) {
	if e == nil || e.store == nil {
		return nil, ErrNotConfigured
	}
	obj, err := e.store.Latest(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return obj, nil
}

// Start периодически выгружает журнал, пока не отменён ctx.
// Ошибки выгрузки только логируются.
func (e *Exporter) Start(ctx context.Context, interval time.Duration) {
	if e == nil || e.store == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Snapshot(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("scheduled ledger export failed", zap.Error(err))
			}
		}
	}
}
