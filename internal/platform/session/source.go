// Package session defines the injectable session source consumed by the
// route guard and the organization refresher. Production code binds it to the
// postgres-backed session store; tests substitute a fake.
package session

import (
	"context"
	"errors"

	"github.com/quickcourier/qcs-api/internal/domain"
)

var ErrNotFound = errors.New("session not found")

// TokenOptions controls token acquisition. LeewaySeconds extends validity
// tolerance for clock skew, Template selects the claim template, SkipCache
// bypasses the short-lived in-process token cache.
type TokenOptions struct {
	LeewaySeconds int
	Template      string
	SkipCache     bool
}

// Source is one session's read/write handle. Metadata updates are
// read-modify-write with last writer wins; Reload re-reads the persisted
// state so the in-memory and stored views stay consistent after a write.
type Source interface {
	Read(ctx context.Context) (*domain.Session, error)
	Update(ctx context.Context, patch domain.MetadataPatch) error
	Reload(ctx context.Context) (*domain.Session, error)
	GetToken(ctx context.Context, opts TokenOptions) (string, error)
}
