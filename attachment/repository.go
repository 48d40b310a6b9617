package attachment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS attachments (
	ref        text PRIMARY KEY,
	data       bytea NOT NULL,
	created_at timestamptz NOT NULL
)`

type repository struct {
	db       *sql.DB
	maxBytes int
}

func NewRepository(db *sql.DB, maxBytes int) *repository {
	return &repository{db: db, maxBytes: maxBytes}
}

func (r *repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating attachments table: %w", err)
	}
	return nil
}

func (r *repository) Validate(data []byte) error {
	return validate(data, r.maxBytes)
}

func (r *repository) Put(ctx context.Context, eventID uuid.UUID, data []byte) (string, error) {
	if err := validate(data, r.maxBytes); err != nil {
		return "", err
	}

	ref := Ref(eventID, data)
	query := `INSERT INTO attachments (ref, data, created_at) VALUES ($1, $2, $3) ON CONFLICT (ref) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, ref, data, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("inserting attachment: %w", err)
	}

	return ref, nil
}

func (r *repository) Get(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM attachments WHERE ref = $1`, ref).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying attachment: %w", err)
	}
	return data, nil
}

func (r *repository) Delete(ctx context.Context, ref string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE ref = $1`, ref)
	return err
}
