package session

import (
	"context"
	"errors"

	"github.com/quickcourier/qcs-api/internal/domain"
)

var ErrAnonymous = errors.New("anonymous session has no backing record")

type anonymous struct{}

// Anonymous returns the source for a visitor with no session: loaded, signed
// out, and rejecting every write.
func Anonymous() Source { return anonymous{} }

func (anonymous) Read(context.Context) (*domain.Session, error) {
	return &domain.Session{Loaded: true, SignedIn: false}, nil
}

func (anonymous) Update(context.Context, domain.MetadataPatch) error {
	return ErrAnonymous
}

func (a anonymous) Reload(ctx context.Context) (*domain.Session, error) {
	return a.Read(ctx)
}

func (anonymous) GetToken(context.Context, TokenOptions) (string, error) {
	return "", ErrAnonymous
}
