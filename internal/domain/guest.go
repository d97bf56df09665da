package domain

import "time"

type ServiceLevel string

const (
	ServiceStandard  ServiceLevel = "standard"
	ServiceExpress   ServiceLevel = "express"
	ServiceOvernight ServiceLevel = "overnight"
)

func ParseServiceLevel(s string) (ServiceLevel, bool) {
	switch ServiceLevel(s) {
	case ServiceStandard, ServiceExpress, ServiceOvernight:
		return ServiceLevel(s), true
	default:
		return "", false
	}
}

// OrderDetails is the pickup/delivery/package record of an in-progress
// guest booking.
type OrderDetails struct {
	PickupAddress   string       `json:"pickup_address"`
	DeliveryAddress string       `json:"delivery_address"`
	PackageType     string       `json:"package_type"`
	WeightKg        float64      `json:"weight_kg"`
	ServiceLevel    ServiceLevel `json:"service_level"`
	PickupAt        *time.Time   `json:"pickup_at,omitempty"`
	Notes           string       `json:"notes,omitempty"`
}

// Pricing is a computed price breakdown, amounts in cents.
type Pricing struct {
	BaseCents     int64  `json:"base_cents"`
	DistanceCents int64  `json:"distance_cents"`
	ServiceCents  int64  `json:"service_cents"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

// GuestBooking is an anonymous visitor's shipment draft. Timestamp is unix
// milliseconds at creation; the record expires 24 hours later and is deleted
// on the next read.
type GuestBooking struct {
	TrackingNumber string        `json:"tracking_number,omitempty"`
	OrderDetails   *OrderDetails `json:"order_details,omitempty"`
	Pricing        *Pricing      `json:"pricing,omitempty"`
	Timestamp      int64         `json:"timestamp"`
}

// Expired reports whether the record is older than ttl at now.
func (b *GuestBooking) Expired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-b.Timestamp >= ttl.Milliseconds()
}

// GuestProgress is the lone step index of a guest's booking form, with the
// same expiry rule as the booking itself.
type GuestProgress struct {
	Step      int   `json:"step"`
	Timestamp int64 `json:"timestamp"`
}

func (p *GuestProgress) Expired(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-p.Timestamp >= ttl.Milliseconds()
}
