package organization

import "github.com/quickcourier/qcs-api/internal/domain"

// ValidateRef structurally checks the denormalized organization snapshot.
// All violations are collected rather than failing on the first; any
// violation classifies the ref as invalid.
func ValidateRef(ref *domain.OrganizationRef) []string {
	if ref == nil {
		return []string{"organization is missing"}
	}

	var violations []string
	if ref.ID == "" {
		violations = append(violations, "organization id is empty")
	} else if !domain.ValidOrgID(ref.ID) {
		violations = append(violations, "organization id does not match org_ pattern")
	}
	if ref.Name == "" {
		violations = append(violations, "organization name is empty")
	}
	return violations
}
