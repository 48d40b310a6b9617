package session

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS recent_events (
	id            uuid PRIMARY KEY,
	name          text NOT NULL,
	last_accessed timestamptz NOT NULL
)`

type repository struct {
	db *sql.DB
}

// NewRepository returns a RecentStore kept in Postgres.
func NewRepository(db *sql.DB) *repository {
	return &repository{db: db}
}

func (r *repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating recent events table: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context) ([]RecentEvent, error) {
	query := `
        SELECT id, name, last_accessed
        FROM recent_events
        ORDER BY last_accessed DESC
        LIMIT $1
    `

	rows, err := r.db.QueryContext(ctx, query, MaxRecent)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var recent []RecentEvent
	for rows.Next() {
		var e RecentEvent
		if err := rows.Scan(&e.ID, &e.Name, &e.LastAccessed); err != nil {
			return nil, err
		}
		recent = append(recent, e)
	}

	return recent, rows.Err()
}

// Save replaces the stored list.
func (r *repository) Save(ctx context.Context, recent []RecentEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recent_events`); err != nil {
		return err
	}

	query := `
        INSERT INTO recent_events (id, name, last_accessed)
        VALUES ($1, $2, $3)
    `
	for _, e := range recent {
		if _, err := tx.ExecContext(ctx, query, e.ID, e.Name, e.LastAccessed); err != nil {
			return err
		}
	}

	return tx.Commit()
}
