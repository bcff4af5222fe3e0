// Package repository содержит реализацию доступа к данным в PostgreSQL и SQLite.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// goose хранит диалект и файловую систему в глобальных переменных.
var migrateMu sync.Mutex

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite3"
)

// Repository предоставляет транзакционный доступ к хранилищу кредитов.
type Repository struct {
	db      *sqlx.DB
	pool    *pgxpool.Pool
	dialect dialect
}

// NewPostgresRepository создаёт репозиторий поверх пула PostgreSQL и применяет миграции.
func NewPostgresRepository(dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{
		db:      sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		pool:    pool,
		dialect: dialectPostgres,
	}

	if err := r.runMigrations(ctx); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// NewSQLiteRepository открывает файл SQLite и применяет миграции.
// Все транзакции выполняются через одно соединение в режиме BEGIN IMMEDIATE.
func NewSQLiteRepository(path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open(string(dialectSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{db: db, dialect: dialectSQLite}

	if err := r.runMigrations(ctx); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Repository) runMigrations(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(r.dialect)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	dir := "migrations/postgres"
	if r.dialect == dialectSQLite {
		dir = "migrations/sqlite"
	}

	if err := goose.UpContext(ctx, r.db.DB, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает соединения с БД.
func (r *Repository) Close() error {
	err := r.db.Close()
	if r.pool != nil {
		r.pool.Close()
	}
	return err
}

// WithTx выполняет fn в одной транзакции. Если fn вернула ошибку, все изменения
// откатываются, а ошибка возвращается без изменений.
func (r *Repository) WithTx(ctx context.Context, fn func(Queries) error) error {
	return r.inTx(ctx, r.txOptions(false), fn)
}

// WithReadTx выполняет fn в транзакции только для чтения.
func (r *Repository) WithReadTx(ctx context.Context, fn func(Queries) error) error {
	return r.inTx(ctx, r.txOptions(true), fn)
}

func (r *Repository) txOptions(readOnly bool) *sql.TxOptions {
	// Драйвер SQLite игнорирует уровень изоляции: запись и так сериализована.
	if r.dialect == dialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly}
}

func (r *Repository) inTx(ctx context.Context, opts *sql.TxOptions, fn func(Queries) error) error {
	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
