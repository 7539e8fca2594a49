package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps objects in PostgreSQL. Writes are full-object upserts so a
// retried artifact upload simply replaces the previous bytes.
type PGStore struct {
	pool    *pgxpool.Pool
	baseURL string
}

// NewPGStore builds a store serving public URLs under baseURL
// (e.g. "https://api.example.com/files").
func NewPGStore(pool *pgxpool.Pool, baseURL string) *PGStore {
	return &PGStore{pool: pool, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *PGStore) Put(ctx context.Context, obj Object) error {
	if obj.Path == "" {
		return fmt.Errorf("blob: empty path")
	}

	const q = `
INSERT INTO blobs (path, content_type, data, public)
VALUES ($1, $2, $3, $4)
ON CONFLICT (path) DO UPDATE
SET content_type = EXCLUDED.content_type,
    data = EXCLUDED.data,
    public = EXCLUDED.public
`
	if _, err := s.pool.Exec(ctx, q, obj.Path, obj.ContentType, obj.Data, obj.Public); err != nil {
		return fmt.Errorf("blob: put %s: %w", obj.Path, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, path string) (Object, error) {
	const q = `SELECT path, content_type, data, public FROM blobs WHERE path = $1`

	var obj Object
	err := s.pool.QueryRow(ctx, q, path).Scan(&obj.Path, &obj.ContentType, &obj.Data, &obj.Public)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("blob: get %s: %w", path, err)
	}
	return obj, nil
}

func (s *PGStore) URL(path string) string {
	return s.baseURL + "/" + path
}
