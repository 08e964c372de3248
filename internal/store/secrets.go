package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Secrets is the sqlite implementation of the secret store. Each (namespace,
// key) pair is written atomically with an upsert so concurrent readers never
// observe a partial write.
type Secrets struct {
	db *sqlx.DB
}

// NewSecrets creates a new instance of Secrets.
func NewSecrets(dbx *sqlx.DB) Secrets {
	return Secrets{
		db: dbx,
	}
}

func (s Secrets) Save(ctx context.Context, namespace, key, value string) error {
	query, args, err := sq.Insert("secrets").
		Columns("namespace", "key", "value").
		Values(namespace, key, value).
		Suffix("ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP").
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error saving secret: %s", err)
	}

	return nil
}

func (s Secrets) Read(ctx context.Context, namespace, key string) (string, bool, error) {
	const q = `SELECT value FROM secrets WHERE namespace = ? AND key = ?;`

	var value string
	err := s.db.GetContext(ctx, &value, q, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading secret: %s", err)
	}

	return value, true, nil
}

func (s Secrets) Delete(ctx context.Context, namespace, key string) error {
	const q = `DELETE FROM secrets WHERE namespace = ? AND key = ?;`

	if _, err := s.db.ExecContext(ctx, q, namespace, key); err != nil {
		return fmt.Errorf("error deleting secret: %s", err)
	}

	return nil
}
