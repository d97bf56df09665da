package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickcourier/qcs-api/internal/domain"
)

var ErrOrganizationNotFound = errors.New("organization not found")

type OrganizationsRepo interface {
	Get(ctx context.Context, id string) (*domain.Organization, error)
	Create(ctx context.Context, name, address, contactEmail, phone string) (*domain.Organization, error)
}

type OrganizationsRepoImpl struct{ pool *pgxpool.Pool }

func NewOrganizationsRepo(pool *pgxpool.Pool) *OrganizationsRepoImpl {
	return &OrganizationsRepoImpl{pool: pool}
}

const orgIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewOrganizationID mints an org_ + 24 alphanumeric identifier.
func NewOrganizationID() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = orgIDAlphabet[int(b)%len(orgIDAlphabet)]
	}
	return "org_" + string(buf)
}

func (r *OrganizationsRepoImpl) Get(ctx context.Context, id string) (*domain.Organization, error) {
	const q = `
SELECT id, name, address, contact_email, phone_number, metadata, created_at, updated_at
FROM organizations WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var o domain.Organization
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&o.ID, &o.Name, &o.Address, &o.ContactEmail, &o.PhoneNumber, &o.Metadata, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *OrganizationsRepoImpl) Create(ctx context.Context, name, address, contactEmail, phone string) (*domain.Organization, error) {
	const q = `
INSERT INTO organizations (id, name, address, contact_email, phone_number)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, name, address, contact_email, phone_number, metadata, created_at, updated_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var o domain.Organization
	if err := r.pool.QueryRow(ctx, q, NewOrganizationID(), name, address, contactEmail, phone).Scan(
		&o.ID, &o.Name, &o.Address, &o.ContactEmail, &o.PhoneNumber, &o.Metadata, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}
