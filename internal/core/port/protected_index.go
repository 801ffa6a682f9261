package port

import (
	"context"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// ProtectedEntityIndex is the read-only lookup of defended handle spaces.
// LookupSimilar returns candidate entities for the matcher to similarity-check;
// at index sizes in the low thousands returning the full set is acceptable.
type ProtectedEntityIndex interface {
	LookupSimilar(ctx context.Context, normalizedHandle string) ([]domain.ProtectedEntity, error)
}

// HandleRegistry answers whether an exact normalized handle is already owned
// by an account.
type HandleRegistry interface {
	IsTaken(ctx context.Context, normalizedHandle string) (bool, error)
}
