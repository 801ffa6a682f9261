package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"
)

const protectedEntitySelect = `SELECT id, category, canonical_handle, alternate_handles, similarity_threshold FROM id_security\.protected_entities`

func protectedEntityRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "category", "canonical_handle", "alternate_handles", "similarity_threshold",
	}).AddRow(
		"pe-1", "verified_person", "elonmusk", []string{"elon"}, 0.85,
	).AddRow(
		"pe-2", "brand", "entativa", []string(nil), 0.8,
	)
}

func TestProtectedEntityRepository_SnapshotCaching(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo := NewProtectedEntityRepository(nil, 5*time.Minute).WithExecutor(mock)
	repo.WithClock(func() time.Time { return now })

	mock.ExpectQuery(protectedEntitySelect).WillReturnRows(protectedEntityRows())

	entities, err := repo.LookupSimilar(context.Background(), "elonmusk")
	if err != nil {
		t.Fatalf("LookupSimilar returned error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if entities[0].CanonicalHandle != "elonmusk" || string(entities[0].Category) != "verified_person" {
		t.Fatalf("unexpected first entity: %+v", entities[0])
	}
	if entities[0].SimilarityThreshold != 0.85 {
		t.Fatalf("unexpected threshold: %v", entities[0].SimilarityThreshold)
	}

	// Within the refresh interval the snapshot is served without a query.
	now = now.Add(time.Minute)
	entities, err = repo.LookupSimilar(context.Background(), "entativa")
	if err != nil {
		t.Fatalf("cached LookupSimilar returned error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected cached snapshot of 2 entities, got %d", len(entities))
	}

	// Past the interval the snapshot is reloaded.
	now = now.Add(10 * time.Minute)
	mock.ExpectQuery(protectedEntitySelect).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "category", "canonical_handle", "alternate_handles", "similarity_threshold",
		}).AddRow("pe-3", "institution", "whitehouse", []string(nil), 0.9))

	entities, err = repo.LookupSimilar(context.Background(), "whitehouse")
	if err != nil {
		t.Fatalf("refreshed LookupSimilar returned error: %v", err)
	}
	if len(entities) != 1 || entities[0].CanonicalHandle != "whitehouse" {
		t.Fatalf("unexpected refreshed snapshot: %+v", entities)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProtectedEntityRepository_ServesStaleOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo := NewProtectedEntityRepository(nil, 5*time.Minute).WithExecutor(mock)
	repo.WithClock(func() time.Time { return now })

	mock.ExpectQuery(protectedEntitySelect).WillReturnRows(protectedEntityRows())
	if _, err := repo.LookupSimilar(context.Background(), "elonmusk"); err != nil {
		t.Fatalf("initial LookupSimilar returned error: %v", err)
	}

	now = now.Add(time.Hour)
	mock.ExpectQuery(protectedEntitySelect).WillReturnError(errors.New("connection refused"))

	entities, err := repo.LookupSimilar(context.Background(), "elonmusk")
	if err != nil {
		t.Fatalf("expected stale snapshot, got error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected stale snapshot of 2 entities, got %d", len(entities))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProtectedEntityRepository_FailsWithoutSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProtectedEntityRepository(nil, 5*time.Minute).WithExecutor(mock)

	mock.ExpectQuery(protectedEntitySelect).WillReturnError(errors.New("connection refused"))

	if _, err := repo.LookupSimilar(context.Background(), "elonmusk"); err == nil {
		t.Fatal("expected error when no snapshot exists")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
