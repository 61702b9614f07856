package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	doc      TEXT NOT NULL,
	locale   TEXT NOT NULL,
	content  TEXT NOT NULL,
	version  TEXT NOT NULL,
	modified TIMESTAMPTZ NOT NULL,
	author   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (doc, locale)
)`

type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Save(ctx context.Context, ref Ref, content, author, baseVersion string) (Revision, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Revision{}, err
	}
	defer tx.Rollback(ctx)

	var stored *Revision
	var version string
	err = tx.QueryRow(ctx,
		`SELECT version FROM documents WHERE doc = $1 AND locale = $2 FOR UPDATE`,
		ref.Doc, ref.Locale).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Revision{}, err
	default:
		stored = &Revision{Version: version}
	}
	if err := check(stored, ref, baseVersion); err != nil {
		return Revision{}, err
	}

	rev := next(stored, ref, content, author)
	_, err = tx.Exec(ctx,
		`INSERT INTO documents (doc, locale, content, version, modified, author)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doc, locale) DO UPDATE
		SET content = EXCLUDED.content, version = EXCLUDED.version,
			modified = EXCLUDED.modified, author = EXCLUDED.author`,
		ref.Doc, ref.Locale, rev.Content, rev.Version, rev.Modified, rev.Author)
	if err != nil {
		return Revision{}, err
	}
	return rev, tx.Commit(ctx)
}

func (p *Postgres) Reload(ctx context.Context, ref Ref) (Revision, error) {
	rev := Revision{Ref: ref}
	err := p.pool.QueryRow(ctx,
		`SELECT content, version, modified, author FROM documents WHERE doc = $1 AND locale = $2`,
		ref.Doc, ref.Locale).Scan(&rev.Content, &rev.Version, &rev.Modified, &rev.Author)
	if errors.Is(err, pgx.ErrNoRows) {
		return Revision{}, fmt.Errorf("%v: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Revision{}, err
	}
	return rev, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}
