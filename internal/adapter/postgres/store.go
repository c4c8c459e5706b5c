package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alertforge/alertforge/internal/domain"
	"github.com/alertforge/alertforge/internal/domain/investigation"
)

// Store implements history.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// SaveInteraction appends a completed investigation record.
func (s *Store) SaveInteraction(ctx context.Context, in *investigation.Interaction) error {
	stepsJSON, err := json.Marshal(orEmpty(in.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interactions (id, query, steps, diagnosis, elapsed_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.Query, stepsJSON, in.Diagnosis, in.ElapsedSeconds, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("save interaction %s: %w", in.ID, err)
	}
	return nil
}

// GetInteraction returns one interaction by ID.
func (s *Store) GetInteraction(ctx context.Context, id string) (*investigation.Interaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, query, steps, diagnosis, elapsed_seconds, created_at
		 FROM interactions WHERE id = $1`, id)

	in, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get interaction %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return &in, nil
}

// ListInteractions returns the most recent interactions, newest first.
func (s *Store) ListInteractions(ctx context.Context, limit int) ([]investigation.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, query, steps, diagnosis, elapsed_seconds, created_at
		 FROM interactions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []investigation.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanInteraction(row scannable) (investigation.Interaction, error) {
	var (
		in        investigation.Interaction
		stepsJSON []byte
	)
	if err := row.Scan(&in.ID, &in.Query, &stepsJSON, &in.Diagnosis, &in.ElapsedSeconds, &in.CreatedAt); err != nil {
		return in, err
	}
	if err := json.Unmarshal(stepsJSON, &in.Steps); err != nil {
		return in, fmt.Errorf("unmarshal steps: %w", err)
	}
	return in, nil
}

// orEmpty ensures JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
