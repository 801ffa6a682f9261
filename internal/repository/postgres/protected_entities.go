package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const defaultIndexRefresh = 5 * time.Minute

// ProtectedEntityRepository implements port.ProtectedEntityIndex backed by
// PostgreSQL. The table holds a few thousand rows at most, so the full set is
// cached in memory and refreshed on an interval; the matcher brute-forces
// similarity against the snapshot.
type ProtectedEntityRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	refresh time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	snapshot []domain.ProtectedEntity
	loadedAt time.Time
}

// NewProtectedEntityRepository wires a PostgreSQL-backed protected-entity
// index with the given refresh interval.
func NewProtectedEntityRepository(pool *pgxpool.Pool, refresh time.Duration) *ProtectedEntityRepository {
	if refresh <= 0 {
		refresh = defaultIndexRefresh
	}
	return &ProtectedEntityRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		refresh: refresh,
		now:     time.Now,
	}
}

// WithExecutor returns a repository bound to the provided executor, used by
// tests to substitute a mock connection.
func (r *ProtectedEntityRepository) WithExecutor(exec pgExecutor) *ProtectedEntityRepository {
	r.exec = exec
	return r
}

// LookupSimilar returns the candidate entities for a normalized handle. The
// snapshot is returned whole; similarity scoring belongs to the matcher.
func (r *ProtectedEntityRepository) LookupSimilar(ctx context.Context, normalizedHandle string) ([]domain.ProtectedEntity, error) {
	r.mu.RLock()
	fresh := r.snapshot != nil && r.now().Sub(r.loadedAt) < r.refresh
	snapshot := r.snapshot
	r.mu.RUnlock()

	if fresh {
		return snapshot, nil
	}

	loaded, err := r.loadAll(ctx)
	if err != nil {
		// Serve a stale snapshot over failing closed here only when one
		// exists; the matcher treats a nil result with error as a hard
		// dependency failure.
		if snapshot != nil {
			return snapshot, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.snapshot = loaded
	r.loadedAt = r.now()
	r.mu.Unlock()

	return loaded, nil
}

func (r *ProtectedEntityRepository) loadAll(ctx context.Context) ([]domain.ProtectedEntity, error) {
	query := r.builder.Select(
		"id",
		"category",
		"canonical_handle",
		"alternate_handles",
		"similarity_threshold",
	).From("id_security.protected_entities")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select protected entities sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query protected entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.ProtectedEntity
	for rows.Next() {
		var entity domain.ProtectedEntity
		var category string
		if err := rows.Scan(
			&entity.ID,
			&category,
			&entity.CanonicalHandle,
			&entity.AlternateHandles,
			&entity.SimilarityThreshold,
		); err != nil {
			return nil, fmt.Errorf("scan protected entity: %w", err)
		}
		entity.Category = domain.ProtectionCategory(category)
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protected entities: %w", err)
	}

	return entities, nil
}

// WithClock overrides the internal clock, used in tests.
func (r *ProtectedEntityRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

var _ port.ProtectedEntityIndex = (*ProtectedEntityRepository)(nil)
