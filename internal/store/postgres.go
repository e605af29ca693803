package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresBackend keeps documents in the nodes table. Versions come from a
// shared sequence so a deleted and recreated path never reuses a version.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend builds a backend over db.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate applies the embedded schema migrations.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	conn := stdlib.OpenDBFromPool(b.db)
	defer conn.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, p string) (Snapshot, error) {
	var (
		value   string
		version int64
	)
	err := b.db.QueryRow(ctx, `SELECT value, version FROM nodes WHERE path = $1`, p).Scan(&value, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{Path: p}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, Value: []byte(value), Version: version}, nil
}

func (b *PostgresBackend) Children(ctx context.Context, parent string) ([]Snapshot, error) {
	rows, err := b.db.Query(ctx, `SELECT path, value, version FROM nodes WHERE parent = $1 ORDER BY path`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap  Snapshot
			value string
		)
		if err := rows.Scan(&snap.Path, &value, &snap.Version); err != nil {
			return nil, err
		}
		snap.Value = []byte(value)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) CompareAndSwap(ctx context.Context, p string, version int64, value []byte) (int64, error) {
	switch {
	case value == nil && version == 0:
		var exists bool
		if err := b.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nodes WHERE path = $1)`, p).Scan(&exists); err != nil {
			return 0, err
		}
		if exists {
			return 0, ErrConflict
		}
		return 0, nil

	case value == nil:
		tag, err := b.db.Exec(ctx, `DELETE FROM nodes WHERE path = $1 AND version = $2`, p, version)
		if err != nil {
			return 0, err
		}
		if tag.RowsAffected() == 0 {
			return 0, ErrConflict
		}
		return 0, nil

	case version == 0:
		var next int64
		err := b.db.QueryRow(ctx, `INSERT INTO nodes (path, parent, value, version)
            VALUES ($1, $2, $3, nextval('node_versions'))
            ON CONFLICT (path) DO NOTHING
            RETURNING version`, p, Parent(p), string(value)).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrConflict
		}
		return next, err

	default:
		var next int64
		err := b.db.QueryRow(ctx, `UPDATE nodes SET value = $2, version = nextval('node_versions')
            WHERE path = $1 AND version = $3
            RETURNING version`, p, string(value), version).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrConflict
		}
		return next, err
	}
}
