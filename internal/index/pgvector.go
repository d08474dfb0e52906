package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
)

// PGVectorIndex stores identities in Postgres and ranks them with the pgvector L2 operator
type PGVectorIndex struct {
	db        *sqlx.DB
	dimension int
	logger    *slog.Logger
}

// NewPGVectorIndex creates a Postgres-backed index
func NewPGVectorIndex(pg *postgresql.Client, dimension int, logger *slog.Logger) *PGVectorIndex {
	return &PGVectorIndex{
		db:        pg.GetDB(),
		dimension: dimension,
		logger:    logger,
	}
}

// Migrate creates the vector extension and the identities table if they are missing
func (p *PGVectorIndex) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_identities (
			id UUID PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			photo TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_identities_created_at_idx
			ON face_identities (created_at DESC, identifier DESC);
	`, p.dimension)

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate face_identities: %w", err)
	}

	p.logger.Info("Identity index schema ready", slog.Int("dimension", p.dimension))
	return nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, identity domain.Identity, sig domain.Signature) error {
	if err := checkDimension(sig, p.dimension); err != nil {
		return err
	}

	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO face_identities (
			id, identifier, photo, embedding, created_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (identifier) DO UPDATE SET
			photo = EXCLUDED.photo,
			embedding = EXCLUDED.embedding
	`

	_, err := p.db.ExecContext(
		ctx,
		query,
		uuid.New().String(),
		identity.Identifier,
		identity.DisplayReference,
		pgvector.NewVector(sig),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert identity %s: %w", identity.Identifier, err)
	}

	return nil
}

type neighborRow struct {
	domain.Identity
	Distance float64 `db:"distance"`
}

func (p *PGVectorIndex) Nearest(ctx context.Context, sig domain.Signature) (*domain.Neighbor, error) {
	if err := checkDimension(sig, p.dimension); err != nil {
		return nil, err
	}

	// <-> is the Euclidean distance operator in pgvector
	query := `
		SELECT identifier, photo, created_at, embedding <-> $1 AS distance
		FROM face_identities
		ORDER BY embedding <-> $1
		LIMIT 1
	`

	var row neighborRow
	err := p.db.GetContext(ctx, &row, query, pgvector.NewVector(sig))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest identity: %w", err)
	}

	return &domain.Neighbor{Identity: row.Identity, Distance: row.Distance}, nil
}

func (p *PGVectorIndex) List(ctx context.Context, filter Filter) ([]domain.Identity, error) {
	query := `
		SELECT identifier, photo, created_at
		FROM face_identities
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, identifier) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.Identifier)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, identifier DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var identities []domain.Identity
	if err := p.db.SelectContext(ctx, &identities, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	return identities, nil
}

func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM face_identities"); err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return n, nil
}

func (p *PGVectorIndex) Reset(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "TRUNCATE face_identities"); err != nil {
		return fmt.Errorf("failed to reset identities: %w", err)
	}

	p.logger.Warn("Identity index reset")
	return nil
}
