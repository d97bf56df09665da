package domain

import (
	"regexp"
	"time"
)

type UserType string

const (
	UserTypeRetail    UserType = "retail"
	UserTypeCorporate UserType = "corporate"
	UserTypeNone      UserType = ""
)

func ParseUserType(s string) (UserType, bool) {
	switch UserType(s) {
	case UserTypeRetail, UserTypeCorporate:
		return UserType(s), true
	default:
		return "", false
	}
}

// MetadataSchemaVersion marks the current shape of the metadata record.
// Sessions carrying an older (or missing) version are re-initialized by the
// route guard's bootstrap step.
const MetadataSchemaVersion = 1

var orgIDPattern = regexp.MustCompile(`^org_[A-Za-z0-9]{24}$`)

// OrganizationRef is the denormalized organization snapshot embedded in
// session metadata. Timestamps are unix milliseconds.
type OrganizationRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastUpdated int64  `json:"last_updated,omitempty"`
	ValidatedAt int64  `json:"validated_at,omitempty"`
}

// ValidOrgID reports whether id matches the org_ + 24 alphanumerics pattern.
func ValidOrgID(id string) bool {
	return orgIDPattern.MatchString(id)
}

// Stale reports whether the snapshot is older than window at now.
// A ref with no LastUpdated is always stale.
func (o *OrganizationRef) Stale(now time.Time, window time.Duration) bool {
	if o.LastUpdated == 0 {
		return true
	}
	return now.UnixMilli()-o.LastUpdated > window.Milliseconds()
}

// Metadata is the versioned, typed profile record attached to a session.
type Metadata struct {
	SchemaVersion       int              `json:"schema_version"`
	UserType            UserType         `json:"user_type"`
	OnboardingComplete  bool             `json:"onboarding_complete"`
	CurrentOrganization *OrganizationRef `json:"current_organization"`
}

func DefaultMetadata() *Metadata {
	return &Metadata{
		SchemaVersion:       MetadataSchemaVersion,
		UserType:            UserTypeNone,
		OnboardingComplete:  false,
		CurrentOrganization: nil,
	}
}

// MetadataPatch is a partial metadata update. Nil fields are left untouched;
// writes are read-modify-write with last writer wins.
type MetadataPatch struct {
	SchemaVersion      *int
	UserType           *UserType
	OnboardingComplete *bool
	Organization       *OrganizationRef
	ClearOrganization  bool
}

// Apply merges the patch into m in place.
func (p MetadataPatch) Apply(m *Metadata) {
	if p.SchemaVersion != nil {
		m.SchemaVersion = *p.SchemaVersion
	}
	if p.UserType != nil {
		m.UserType = *p.UserType
	}
	if p.OnboardingComplete != nil {
		m.OnboardingComplete = *p.OnboardingComplete
	}
	if p.Organization != nil {
		m.CurrentOrganization = p.Organization
	}
	if p.ClearOrganization {
		m.CurrentOrganization = nil
	}
}

// Session is one authenticated or anonymous visit.
type Session struct {
	ID       string    `json:"id"`
	Loaded   bool      `json:"loaded"`
	SignedIn bool      `json:"signed_in"`
	UserID   int64     `json:"user_id,omitempty"`
	Email    string    `json:"email,omitempty"`
	Metadata *Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
