package domain

import "time"

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentScheduled ShipmentStatus = "pickup_scheduled"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCanceled  ShipmentStatus = "canceled"
)

func ParseShipmentStatus(s string) (ShipmentStatus, bool) {
	switch ShipmentStatus(s) {
	case ShipmentPending, ShipmentScheduled, ShipmentInTransit, ShipmentDelivered, ShipmentCanceled:
		return ShipmentStatus(s), true
	default:
		return "", false
	}
}

type Shipment struct {
	ID             int64          `json:"id"`
	TrackingNumber string         `json:"tracking_number"`
	Status         ShipmentStatus `json:"status"`

	UserID         int64   `json:"user_id"`
	OrganizationID *string `json:"organization_id,omitempty"`

	PickupAddress   string       `json:"pickup_address"`
	DeliveryAddress string       `json:"delivery_address"`
	PackageType     string       `json:"package_type"`
	WeightKg        float64      `json:"weight_kg"`
	ServiceLevel    ServiceLevel `json:"service_level"`
	Notes           string       `json:"notes,omitempty"`

	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`

	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ShipmentCreateReq struct {
	PickupAddress   string       `json:"pickup_address"`
	DeliveryAddress string       `json:"delivery_address"`
	PackageType     string       `json:"package_type"`
	WeightKg        float64      `json:"weight_kg"`
	ServiceLevel    ServiceLevel `json:"service_level"`
	Notes           string       `json:"notes"`
}

// Organization is the full backend record behind an OrganizationRef.
type Organization struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Address      string            `json:"address,omitempty"`
	ContactEmail string            `json:"contact_email,omitempty"`
	PhoneNumber  string            `json:"phone_number,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
