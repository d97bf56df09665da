package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/platform/auth"
	"github.com/quickcourier/qcs-api/internal/platform/session"
	"github.com/quickcourier/qcs-api/pkg/config"
)

// SessionsRepo persists sessions with a JSONB metadata column and binds them
// to the session.Source interface one session at a time.
type SessionsRepo struct {
	pool     *pgxpool.Pool
	tokenTTL time.Duration
	cacheTTL time.Duration

	mu         sync.Mutex
	tokenCache map[string]cachedToken
}

type cachedToken struct {
	token    string
	cachedAt time.Time
}

func NewSessionsRepo(pool *pgxpool.Pool, cfg config.SessionConfig) *SessionsRepo {
	return &SessionsRepo{
		pool:       pool,
		tokenTTL:   cfg.AccessTokenTTL,
		cacheTTL:   cfg.TokenCacheTTL,
		tokenCache: make(map[string]cachedToken),
	}
}

func (r *SessionsRepo) Create(ctx context.Context, userID int64, email string) (*domain.Session, error) {
	const q = `
INSERT INTO sessions (id, user_id, email, signed_in)
VALUES ($1,$2,$3,$4)
RETURNING id, user_id, email, signed_in, metadata, created_at, updated_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.scanSession(r.pool.QueryRow(ctx, q, uuid.NewString(), userID, email, userID != 0))
}

func (r *SessionsRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	const q = `SELECT id, user_id, email, signed_in, metadata, created_at, updated_at FROM sessions WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s, err := r.scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SessionsRepo) scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s      domain.Session
		userID *int64
		meta   *domain.Metadata
	)
	if err := row.Scan(&s.ID, &userID, &s.Email, &s.SignedIn, &meta, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if userID != nil {
		s.UserID = *userID
	}
	s.Metadata = meta
	s.Loaded = true
	return &s, nil
}

// UpdateMetadata applies the patch read-modify-write. Last writer wins; there
// is no version check on the metadata column.
func (r *SessionsRepo) UpdateMetadata(ctx context.Context, id string, patch domain.MetadataPatch) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var meta *domain.Metadata
	if err := r.pool.QueryRow(ctx, `SELECT metadata FROM sessions WHERE id=$1`, id).Scan(&meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.ErrNotFound
		}
		return err
	}
	if meta == nil {
		meta = domain.DefaultMetadata()
	}
	patch.Apply(meta)

	_, err := r.pool.Exec(ctx, `UPDATE sessions SET metadata=$2, updated_at=now() WHERE id=$1`, id, meta)
	return err
}

func (r *SessionsRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	return err
}

// ForSession returns a session.Source bound to one session ID.
func (r *SessionsRepo) ForSession(id string) session.Source {
	return &boundSession{repo: r, id: id}
}

type boundSession struct {
	repo *SessionsRepo
	id   string
}

func (b *boundSession) Read(ctx context.Context) (*domain.Session, error) {
	return b.repo.Get(ctx, b.id)
}

func (b *boundSession) Update(ctx context.Context, patch domain.MetadataPatch) error {
	return b.repo.UpdateMetadata(ctx, b.id, patch)
}

func (b *boundSession) Reload(ctx context.Context) (*domain.Session, error) {
	return b.repo.Get(ctx, b.id)
}

func (b *boundSession) GetToken(ctx context.Context, opts session.TokenOptions) (string, error) {
	if !opts.SkipCache {
		b.repo.mu.Lock()
		if c, ok := b.repo.tokenCache[b.id]; ok && time.Since(c.cachedAt) < b.repo.cacheTTL {
			b.repo.mu.Unlock()
			return c.token, nil
		}
		b.repo.mu.Unlock()
	}

	s, err := b.Read(ctx)
	if err != nil {
		return "", err
	}
	userType := ""
	if s.Metadata != nil {
		userType = string(s.Metadata.UserType)
	}

	ttl := b.repo.tokenTTL
	if opts.LeewaySeconds > 0 {
		ttl += time.Duration(opts.LeewaySeconds) * time.Second
	}

	token, err := auth.NewSessionToken(s.UserID, s.ID, s.Email, userType, ttl)
	if err != nil {
		return "", err
	}

	b.repo.mu.Lock()
	b.repo.tokenCache[b.id] = cachedToken{token: token, cachedAt: time.Now()}
	b.repo.mu.Unlock()

	return token, nil
}
