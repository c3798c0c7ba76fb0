package db

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"pobbin/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func NewPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "db open")
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	p := &Postgres{db: db, queryTimeout: queryTimeout}
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := p.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration error")
	}
	return p, nil
}

func (p *Postgres) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, p.db, "migrations")
}

func (p *Postgres) Put(ctx context.Context, paste *domain.Paste) error {
	if err := checkKey(paste.Key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO objects (key, data, digest)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			digest = EXCLUDED.digest,
			updated_at = now()`,
		paste.Key, paste.Data, paste.Digest,
	)
	return errors.Wrap(err, "postgres put")
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres get")
	}
	return data, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
