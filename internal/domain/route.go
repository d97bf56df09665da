package domain

import (
	"net/url"
	"strconv"
	"strings"
)

// RouteRequirement is the declarative access policy attached to a route.
type RouteRequirement struct {
	RequireAuth         bool
	RequireOnboarding   bool
	AllowedUserTypes    []UserType
	RequireOrganization bool
}

func (r RouteRequirement) Allows(t UserType) bool {
	for _, a := range r.AllowedUserTypes {
		if a == t {
			return true
		}
	}
	return false
}

type DecisionKind int

const (
	// DecisionWait means no decision could be made yet (session still
	// loading, or an overlapping evaluation is in flight).
	DecisionWait DecisionKind = iota
	// DecisionReevaluate means session state was repaired in place and the
	// evaluation should run again against the reloaded session.
	DecisionReevaluate
	DecisionAllow
	DecisionRedirect
)

// NavState is the diagnostic state attached to a redirect, consumed by the
// destination page to render contextual banners.
type NavState struct {
	From               string
	UserType           UserType
	RequiresOnboarding bool
	Restricted         bool
	AllowedTypes       []UserType
	CurrentType        UserType
	Reason             string
	Error              string
	Message            string
	Attempt            int
	Timestamp          int64
	Path               string
}

// Encode serializes the state as query parameters for the redirect target.
func (s NavState) Encode() url.Values {
	v := url.Values{}
	if s.From != "" {
		v.Set("from", s.From)
	}
	if s.UserType != "" {
		v.Set("user_type", string(s.UserType))
	}
	if s.RequiresOnboarding {
		v.Set("requires_onboarding", "true")
	}
	if s.Restricted {
		v.Set("restricted", "true")
	}
	if len(s.AllowedTypes) > 0 {
		parts := make([]string, 0, len(s.AllowedTypes))
		for _, t := range s.AllowedTypes {
			parts = append(parts, string(t))
		}
		v.Set("allowed_types", strings.Join(parts, ","))
	}
	if s.CurrentType != "" {
		v.Set("current_type", string(s.CurrentType))
	}
	if s.Reason != "" {
		v.Set("reason", s.Reason)
	}
	if s.Error != "" {
		v.Set("error", s.Error)
	}
	if s.Message != "" {
		v.Set("message", s.Message)
	}
	if s.Attempt > 0 {
		v.Set("attempt", strconv.Itoa(s.Attempt))
	}
	if s.Timestamp > 0 {
		v.Set("ts", strconv.FormatInt(s.Timestamp, 10))
	}
	if s.Path != "" {
		v.Set("path", s.Path)
	}
	return v
}

// Decision is the single outcome of one route-guard evaluation.
type Decision struct {
	Kind   DecisionKind
	Target string
	State  NavState
}

func Allow() Decision      { return Decision{Kind: DecisionAllow} }
func Wait() Decision       { return Decision{Kind: DecisionWait} }
func Reevaluate() Decision { return Decision{Kind: DecisionReevaluate} }

func Redirect(target string, state NavState) Decision {
	return Decision{Kind: DecisionRedirect, Target: target, State: state}
}

// RedirectURL is the target path with the encoded state appended.
func (d Decision) RedirectURL() string {
	q := d.State.Encode().Encode()
	if q == "" {
		return d.Target
	}
	sep := "?"
	if strings.Contains(d.Target, "?") {
		sep = "&"
	}
	return d.Target + sep + q
}
