package postgres

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quickcourier/qcs-api/internal/domain"
)

type ShipmentsRepo interface {
	Create(ctx context.Context, s *domain.Shipment) (*domain.Shipment, error)
	GetByID(ctx context.Context, id int64) (*domain.Shipment, error)
	GetByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Shipment, error)
	ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]domain.Shipment, error)
}

type ShipmentsRepoImpl struct{ pool *pgxpool.Pool }

func NewShipmentsRepo(pool *pgxpool.Pool) *ShipmentsRepoImpl { return &ShipmentsRepoImpl{pool: pool} }

const trackingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTrackingNumber mints a QCS- prefixed tracking number.
func NewTrackingNumber() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = trackingAlphabet[int(b)%len(trackingAlphabet)]
	}
	return "QCS-" + string(buf)
}

const shipmentCols = `id, tracking_number, status, user_id, organization_id,
pickup_address, delivery_address, package_type, weight_kg, service_level, notes,
price_cents, currency, payment_intent_id, created_at, updated_at`

func (r *ShipmentsRepoImpl) Create(ctx context.Context, s *domain.Shipment) (*domain.Shipment, error) {
	q := fmt.Sprintf(`
INSERT INTO shipments (tracking_number, status, user_id, organization_id,
pickup_address, delivery_address, package_type, weight_kg, service_level, notes,
price_cents, currency, payment_intent_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING %s`, shipmentCols)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	tracking := s.TrackingNumber
	if tracking == "" {
		tracking = NewTrackingNumber()
	}
	status := s.Status
	if status == "" {
		status = domain.ShipmentPending
	}
	currency := s.Currency
	if currency == "" {
		currency = "usd"
	}
	return scanShipment(r.pool.QueryRow(ctx, q,
		tracking, status, s.UserID, s.OrganizationID,
		s.PickupAddress, s.DeliveryAddress, s.PackageType, s.WeightKg, s.ServiceLevel, s.Notes,
		s.PriceCents, currency, s.PaymentIntentID,
	))
}

func (r *ShipmentsRepoImpl) GetByID(ctx context.Context, id int64) (*domain.Shipment, error) {
	q := fmt.Sprintf(`SELECT %s FROM shipments WHERE id=$1`, shipmentCols)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanShipment(r.pool.QueryRow(ctx, q, id))
}

func (r *ShipmentsRepoImpl) GetByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	q := fmt.Sprintf(`SELECT %s FROM shipments WHERE tracking_number=$1`, shipmentCols)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanShipment(r.pool.QueryRow(ctx, q, trackingNumber))
}

func (r *ShipmentsRepoImpl) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.Shipment, error) {
	q := fmt.Sprintf(`SELECT %s FROM shipments WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, shipmentCols)
	return r.list(ctx, q, userID, limit, offset)
}

func (r *ShipmentsRepoImpl) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]domain.Shipment, error) {
	q := fmt.Sprintf(`SELECT %s FROM shipments WHERE organization_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, shipmentCols)
	return r.list(ctx, q, orgID, limit, offset)
}

func (r *ShipmentsRepoImpl) list(ctx context.Context, q string, key any, limit, offset int) ([]domain.Shipment, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, key, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanShipment(row rowScanner) (*domain.Shipment, error) {
	var s domain.Shipment
	if err := row.Scan(
		&s.ID, &s.TrackingNumber, &s.Status, &s.UserID, &s.OrganizationID,
		&s.PickupAddress, &s.DeliveryAddress, &s.PackageType, &s.WeightKg, &s.ServiceLevel, &s.Notes,
		&s.PriceCents, &s.Currency, &s.PaymentIntentID, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
