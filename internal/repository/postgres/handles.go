package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qisslab/entativa-id-security/internal/core/port"
)

// HandleRepository implements port.HandleRegistry using PostgreSQL. It only
// answers exact-taken lookups; handle ownership itself is managed by the
// account service.
type HandleRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewHandleRepository wires a PostgreSQL-backed handle registry.
func NewHandleRepository(pool *pgxpool.Pool) *HandleRepository {
	return &HandleRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithExecutor returns a repository bound to the provided executor, used by
// tests to substitute a mock connection.
func (r *HandleRepository) WithExecutor(exec pgExecutor) *HandleRepository {
	if exec == nil {
		return r
	}
	return &HandleRepository{pool: r.pool, exec: exec, builder: r.builder}
}

// IsTaken reports whether an account already owns the exact normalized handle.
func (r *HandleRepository) IsTaken(ctx context.Context, normalizedHandle string) (bool, error) {
	query := r.builder.Select("1").
		From("id_security.claimed_handles").
		Where(squirrel.Eq{"normalized_handle": normalizedHandle}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build select handle sql: %w", err)
	}

	var one int
	err = r.exec.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query claimed handle: %w", err)
	}

	return true, nil
}

var _ port.HandleRegistry = (*HandleRepository)(nil)
