package domain_test

import (
	"testing"
	"time"

	"github.com/quickcourier/qcs-api/internal/domain"
)

func TestOrganizationRefStale(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	window := 12 * time.Hour

	tests := []struct {
		name        string
		lastUpdated int64
		stale       bool
	}{
		{"never updated", 0, true},
		{"just written", now.UnixMilli(), false},
		{"inside the window", now.Add(-11 * time.Hour).UnixMilli(), false},
		{"exactly at the window", now.Add(-12 * time.Hour).UnixMilli(), false},
		{"past the window", now.Add(-12*time.Hour - time.Millisecond).UnixMilli(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := &domain.OrganizationRef{LastUpdated: tt.lastUpdated}
			if got := ref.Stale(now, window); got != tt.stale {
				t.Errorf("Stale() = %v, want %v", got, tt.stale)
			}
		})
	}
}

func TestMetadataPatchApply(t *testing.T) {
	org := &domain.OrganizationRef{ID: "org_abcdefghijklmnopqrstuvwx", Name: "Acme"}
	m := &domain.Metadata{
		SchemaVersion:       domain.MetadataSchemaVersion,
		UserType:            domain.UserTypeCorporate,
		OnboardingComplete:  true,
		CurrentOrganization: org,
	}

	// Nil fields leave everything untouched.
	domain.MetadataPatch{}.Apply(m)
	if m.UserType != domain.UserTypeCorporate || !m.OnboardingComplete || m.CurrentOrganization != org {
		t.Fatalf("empty patch changed metadata: %+v", m)
	}

	retail := domain.UserTypeRetail
	domain.MetadataPatch{UserType: &retail}.Apply(m)
	if m.UserType != domain.UserTypeRetail {
		t.Errorf("user type not applied")
	}
	if m.CurrentOrganization != org {
		t.Errorf("organization must survive an unrelated patch")
	}

	domain.MetadataPatch{ClearOrganization: true}.Apply(m)
	if m.CurrentOrganization != nil {
		t.Errorf("organization not cleared")
	}

	// An explicit zero overwrites, unlike an absent field.
	incomplete := false
	domain.MetadataPatch{OnboardingComplete: &incomplete}.Apply(m)
	if m.OnboardingComplete {
		t.Errorf("onboarding flag not reset")
	}
}

func TestGuestBookingExpired(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	ttl := 24 * time.Hour

	b := domain.GuestBooking{Timestamp: now.Add(-23 * time.Hour).UnixMilli()}
	if b.Expired(now, ttl) {
		t.Error("23h old booking should still be fresh")
	}

	b.Timestamp = now.Add(-24 * time.Hour).UnixMilli()
	if !b.Expired(now, ttl) {
		t.Error("booking at the exact window edge is expired")
	}

	b.Timestamp = now.Add(-25 * time.Hour).UnixMilli()
	if !b.Expired(now, ttl) {
		t.Error("25h old booking is expired")
	}
}

func TestParseUserType(t *testing.T) {
	if tp, ok := domain.ParseUserType("retail"); !ok || tp != domain.UserTypeRetail {
		t.Errorf("retail: (%q, %v)", tp, ok)
	}
	if tp, ok := domain.ParseUserType("corporate"); !ok || tp != domain.UserTypeCorporate {
		t.Errorf("corporate: (%q, %v)", tp, ok)
	}
	for _, bad := range []string{"", "admin", "Retail", "CORPORATE"} {
		if _, ok := domain.ParseUserType(bad); ok {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestQuotePricing(t *testing.T) {
	od := &domain.OrderDetails{WeightKg: 2, ServiceLevel: domain.ServiceStandard}
	p := domain.QuotePricing(od)
	if p == nil || p.TotalCents != p.BaseCents+p.DistanceCents+p.ServiceCents {
		t.Fatalf("pricing = %+v", p)
	}
	if p.ServiceCents != 0 {
		t.Errorf("standard service has no surcharge, got %d", p.ServiceCents)
	}

	od.ServiceLevel = domain.ServiceOvernight
	if q := domain.QuotePricing(od); q.TotalCents <= p.TotalCents {
		t.Errorf("overnight should cost more than standard: %d vs %d", q.TotalCents, p.TotalCents)
	}

	if domain.QuotePricing(nil) != nil {
		t.Error("nil order has no quote")
	}
}
