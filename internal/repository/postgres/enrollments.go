package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

// EnrollmentRepository implements port.EnrollmentRepository using PostgreSQL.
// Rows are soft-disabled, never deleted.
type EnrollmentRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewEnrollmentRepository wires a PostgreSQL-backed enrollment repository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithExecutor returns a repository bound to the provided executor, used by
// tests to substitute a mock connection.
func (r *EnrollmentRepository) WithExecutor(exec pgExecutor) *EnrollmentRepository {
	if exec == nil {
		return r
	}
	return &EnrollmentRepository{pool: r.pool, exec: exec, builder: r.builder}
}

// Create inserts a new enrollment row.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment domain.MFAEnrollment) error {
	backupCodes, err := json.Marshal(enrollment.BackupCodes)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}

	var keyID any
	var wrappedKey, nonce, ciphertext any
	if enrollment.Secret != nil {
		keyID = enrollment.Secret.KeyID
		wrappedKey = enrollment.Secret.WrappedKey
		nonce = enrollment.Secret.Nonce
		ciphertext = enrollment.Secret.Ciphertext
	}

	query := r.builder.Insert("id_security.mfa_enrollments").
		Columns(
			"id",
			"user_id",
			"method",
			"status",
			"secret_key_id",
			"secret_wrapped_key",
			"secret_nonce",
			"secret_ciphertext",
			"destination",
			"backup_codes",
			"template_quality",
			"usage_count",
			"created_at",
			"activated_at",
			"last_used_at",
			"disabled_at",
		).
		Values(
			enrollment.ID,
			enrollment.UserID,
			string(enrollment.Method),
			string(enrollment.Status),
			keyID,
			wrappedKey,
			nonce,
			ciphertext,
			enrollment.Destination,
			backupCodes,
			enrollment.TemplateQuality,
			enrollment.UsageCount,
			enrollment.CreatedAt,
			enrollment.ActivatedAt,
			enrollment.LastUsedAt,
			enrollment.DisabledAt,
		)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert enrollment sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}

	return nil
}

// Get fetches the enrollment for (userID, method), newest first so a
// re-enrollment after disable wins.
func (r *EnrollmentRepository) Get(ctx context.Context, userID string, method domain.MFAMethod) (*domain.MFAEnrollment, error) {
	query := r.selectEnrollments().
		Where(squirrel.Eq{"user_id": userID, "method": string(method)}).
		OrderBy("created_at DESC").
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select enrollment sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, sql, args...)
	enrollment, err := scanEnrollment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}

// ListByUser returns every enrollment for the user across methods.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]domain.MFAEnrollment, error) {
	query := r.selectEnrollments().
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at ASC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list enrollments sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []domain.MFAEnrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *enrollment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}

	return enrollments, nil
}

// UpdateStatus transitions the enrollment lifecycle, stamping activation or
// disablement timestamps as appropriate.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status domain.EnrollmentStatus, at time.Time) error {
	query := r.builder.Update("id_security.mfa_enrollments").
		Set("status", string(status)).
		Where(squirrel.Eq{"id": id})

	switch status {
	case domain.EnrollmentActive:
		query = query.Set("activated_at", at)
	case domain.EnrollmentDisabled:
		query = query.Set("disabled_at", at)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update enrollment status sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RecordUsage bumps the usage counter and last-used timestamp.
func (r *EnrollmentRepository) RecordUsage(ctx context.Context, id string, usedAt time.Time) error {
	query := r.builder.Update("id_security.mfa_enrollments").
		Set("usage_count", squirrel.Expr("usage_count + 1")).
		Set("last_used_at", usedAt).
		Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build record usage sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("record enrollment usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateBackupCodes replaces the stored backup-code pool.
func (r *EnrollmentRepository) UpdateBackupCodes(ctx context.Context, id string, codes []domain.BackupCode) error {
	payload, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}

	query := r.builder.Update("id_security.mfa_enrollments").
		Set("backup_codes", payload).
		Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update backup codes sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update backup codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ConsumeBackupCode stamps consumed_at on the code at index with a guarded
// update: the row only changes when the code is still unconsumed, so two
// concurrent redemptions of the same code cannot both succeed.
func (r *EnrollmentRepository) ConsumeBackupCode(ctx context.Context, id string, index int, consumedAt time.Time) error {
	if index < 0 {
		return fmt.Errorf("backup code index %d out of range", index)
	}

	path := fmt.Sprintf("{%d,consumed_at}", index)

	query := r.builder.Update("id_security.mfa_enrollments").
		Set("backup_codes", squirrel.Expr(
			"jsonb_set(backup_codes, ?::text[], to_jsonb(?::timestamptz))",
			path, consumedAt,
		)).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Expr("backup_codes #>> ?::text[] IS NULL", path))

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build consume backup code sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("consume backup code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	return nil
}

func (r *EnrollmentRepository) selectEnrollments() squirrel.SelectBuilder {
	return r.builder.Select(
		"id",
		"user_id",
		"method",
		"status",
		"secret_key_id",
		"secret_wrapped_key",
		"secret_nonce",
		"secret_ciphertext",
		"destination",
		"backup_codes",
		"template_quality",
		"usage_count",
		"created_at",
		"activated_at",
		"last_used_at",
		"disabled_at",
	).From("id_security.mfa_enrollments")
}

func scanEnrollment(row pgx.Row) (*domain.MFAEnrollment, error) {
	var enrollment domain.MFAEnrollment
	var method, status string
	var keyID *string
	var wrappedKey, nonce, ciphertext []byte
	var backupCodes []byte

	if err := row.Scan(
		&enrollment.ID,
		&enrollment.UserID,
		&method,
		&status,
		&keyID,
		&wrappedKey,
		&nonce,
		&ciphertext,
		&enrollment.Destination,
		&backupCodes,
		&enrollment.TemplateQuality,
		&enrollment.UsageCount,
		&enrollment.CreatedAt,
		&enrollment.ActivatedAt,
		&enrollment.LastUsedAt,
		&enrollment.DisabledAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}

	enrollment.Method = domain.MFAMethod(method)
	enrollment.Status = domain.EnrollmentStatus(status)

	if keyID != nil && *keyID != "" {
		enrollment.Secret = &domain.EncryptedSecret{
			KeyID:      *keyID,
			WrappedKey: wrappedKey,
			Nonce:      nonce,
			Ciphertext: ciphertext,
		}
	}

	if len(backupCodes) > 0 {
		if err := json.Unmarshal(backupCodes, &enrollment.BackupCodes); err != nil {
			return nil, fmt.Errorf("unmarshal backup codes: %w", err)
		}
	}

	return &enrollment, nil
}

var _ port.EnrollmentRepository = (*EnrollmentRepository)(nil)
