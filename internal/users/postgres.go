package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresConfig holds connection-pool tuning for the user store.
type PostgresConfig struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
}

// PostgresRepository is a pgx-backed [Repository].
type PostgresRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a pgx pool, pings it, and returns the
// repository. The pool is shared process-wide; every query carries the
// configured bounded timeout.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &PostgresRepository{pool: pool, queryTimeout: cfg.QueryTimeout}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// Ping checks store availability.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

const (
	qUserInsert = `
INSERT INTO users (email, password_hash, full_name, is_active)
VALUES ($1, $2, $3, TRUE)
RETURNING id, email, password_hash, full_name, is_active, created_at, updated_at;`

	qUserByEmail = `
SELECT id, email, password_hash, full_name, is_active, created_at, updated_at
FROM users
WHERE email = $1;`

	qUserByID = `
SELECT id, email, password_hash, full_name, is_active, created_at, updated_at
FROM users
WHERE id = $1;`

	qUserSetPassword = `
UPDATE users
SET password_hash = $2,
    updated_at    = NOW()
WHERE id = $1;`
)

// Create inserts a user record and fills in the generated fields.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, qUserInsert, u.Email, u.PasswordHash, u.FullName)
	if err := scanUser(row, u); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrEmailTaken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetByEmail fetches a user by exact email match. Callers normalize the
// email before lookup.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var u User
	if err := scanUser(r.pool.QueryRow(ctx, qUserByEmail, email), &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &u, nil
}

// GetByID fetches a user by primary key.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var u User
	if err := scanUser(r.pool.QueryRow(ctx, qUserByID, id), &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored hash for a user.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, qUserSetPassword, id, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row, out *User) error {
	return row.Scan(
		&out.ID,
		&out.Email,
		&out.PasswordHash,
		&out.FullName,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
}
