package domain_test

import (
	"net/url"
	"testing"

	"github.com/quickcourier/qcs-api/internal/domain"
)

func TestNavStateEncode(t *testing.T) {
	s := domain.NavState{
		From:         "/retail/shipments",
		Restricted:   true,
		AllowedTypes: []domain.UserType{domain.UserTypeRetail, domain.UserTypeCorporate},
		CurrentType:  domain.UserTypeCorporate,
	}
	v := s.Encode()

	if got := v.Get("from"); got != "/retail/shipments" {
		t.Errorf("from = %q", got)
	}
	if got := v.Get("restricted"); got != "true" {
		t.Errorf("restricted = %q", got)
	}
	if got := v.Get("allowed_types"); got != "retail,corporate" {
		t.Errorf("allowed_types = %q", got)
	}
	if got := v.Get("current_type"); got != "corporate" {
		t.Errorf("current_type = %q", got)
	}
	if v.Has("requires_onboarding") || v.Has("reason") || v.Has("attempt") {
		t.Errorf("zero-value fields must be omitted: %v", v)
	}
}

func TestNavStateEncodeEmpty(t *testing.T) {
	if got := (domain.NavState{}).Encode().Encode(); got != "" {
		t.Errorf("empty state should encode to nothing, got %q", got)
	}
}

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		name   string
		d      domain.Decision
		expect string
	}{
		{
			name:   "no state",
			d:      domain.Redirect("/retail", domain.NavState{}),
			expect: "/retail",
		},
		{
			name:   "state appended with question mark",
			d:      domain.Redirect("/corporate/onboarding", domain.NavState{Reason: "stale"}),
			expect: "/corporate/onboarding?reason=stale",
		},
		{
			name:   "existing query gets ampersand",
			d:      domain.Redirect("/sign-in?redirect_url=%2Fretail", domain.NavState{From: "/retail"}),
			expect: "/sign-in?redirect_url=%2Fretail&from=%2Fretail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.d.RedirectURL()
			if got != tt.expect {
				t.Errorf("RedirectURL() = %q, want %q", got, tt.expect)
			}
			if _, err := url.Parse(got); err != nil {
				t.Errorf("redirect url must parse: %v", err)
			}
		})
	}
}

func TestRouteRequirementAllows(t *testing.T) {
	req := domain.RouteRequirement{AllowedUserTypes: []domain.UserType{domain.UserTypeRetail}}
	if !req.Allows(domain.UserTypeRetail) {
		t.Error("retail should be allowed")
	}
	if req.Allows(domain.UserTypeCorporate) || req.Allows(domain.UserTypeNone) {
		t.Error("only listed types are allowed")
	}
}
